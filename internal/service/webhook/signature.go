package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// SignatureHeader — HTTP-заголовок с подписью провайдера.
const SignatureHeader = "Payment-Signature"

// defaultTolerance ограничивает расхождение таймстемпа подписи с
// текущим временем: защита от replay старых событий.
const defaultTolerance = 5 * time.Minute

const signatureVersion = "v1"

// Verifier проверяет подлинность webhook-запросов по схеме провайдера:
// HMAC-SHA256 от "<timestamp>.<raw body>" c shared secret. Проверка
// выполняется над сырым телом запроса до какого-либо парсинга и до
// любого обращения к хранилищу.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// VerifierOption настраивает Verifier.
type VerifierOption func(*Verifier)

// WithTolerance задаёт допустимое окно расхождения таймстемпа.
func WithTolerance(tolerance time.Duration) VerifierOption {
	return func(v *Verifier) {
		if tolerance > 0 {
			v.tolerance = tolerance
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier создаёт Verifier с shared secret провайдера.
func NewVerifier(secret string, options ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: defaultTolerance,
		now:       time.Now,
	}
	for _, option := range options {
		option(v)
	}
	return v
}

// Verify проверяет подпись сырого тела и возвращает разобранное событие.
// Любая проблема с заголовком, таймстемпом или дайджестом — это
// ErrInvalidSignature без уточнений: детали не должны помогать атакующему.
func (v *Verifier) Verify(body []byte, header string) (Event, error) {
	ts, digests, err := parseSignatureHeader(header)
	if err != nil {
		return Event{}, domain.ErrInvalidSignature
	}

	issued := time.Unix(ts, 0)
	drift := v.now().Sub(issued)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.tolerance {
		return Event{}, domain.ErrInvalidSignature
	}

	expected := computeDigest(v.secret, ts, body)
	match := false
	for _, digest := range digests {
		if hmac.Equal([]byte(digest), []byte(expected)) {
			match = true
			break
		}
	}
	if !match {
		return Event{}, domain.ErrInvalidSignature
	}

	return ParseEvent(body)
}

// Sign формирует значение заголовка подписи для тела body.
// Используется mock-провайдером и тестами.
func Sign(secret string, issued time.Time, body []byte) string {
	ts := issued.Unix()
	return fmt.Sprintf("t=%d,%s=%s", ts, signatureVersion, computeDigest([]byte(secret), ts, body))
}

func computeDigest(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("empty signature header")
	}

	var (
		ts      int64
		haveTS  bool
		digests []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, fmt.Errorf("malformed signature element: %s", part)
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed signature timestamp: %w", err)
			}
			ts = parsed
			haveTS = true
		case signatureVersion:
			digests = append(digests, value)
		}
	}

	if !haveTS || len(digests) == 0 {
		return 0, nil, fmt.Errorf("signature header is incomplete")
	}

	return ts, digests, nil
}
