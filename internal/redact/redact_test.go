package redact

import (
	"strings"
	"testing"
)

func TestTokenizeEmail(t *testing.T) {
	tok := NewTokenizer(DefaultConfig())
	out := tok.Tokenize(`{"contact":"a@b.com"}`)
	if strings.Contains(out, "a@b.com") {
		t.Fatalf("email not redacted: %s", out)
	}
	if !strings.Contains(out, "[EMAIL_1]") {
		t.Fatalf("expected [EMAIL_1], got %s", out)
	}
	if tok.Redactions()["EMAIL_1"] != "a@b.com" {
		t.Fatalf("reverse mapping wrong: %+v", tok.Redactions())
	}
}

func TestTokenizeSameValueSameToken(t *testing.T) {
	tok := NewTokenizer(DefaultConfig())
	out := tok.Tokenize("a@b.com and again a@b.com plus c@d.net")
	if strings.Count(out, "[EMAIL_1]") != 2 {
		t.Fatalf("expected stable token reuse, got %s", out)
	}
	if !strings.Contains(out, "[EMAIL_2]") {
		t.Fatalf("expected second email token, got %s", out)
	}
	if tok.Count() != 2 {
		t.Fatalf("expected 2 redactions, got %d", tok.Count())
	}
}

func TestTokenizeIdempotent(t *testing.T) {
	tok := NewTokenizer(DefaultConfig())
	once := tok.Tokenize("reach me at a@b.com or +1 415 555 0100")
	twice := tok.Tokenize(once)
	if once != twice {
		t.Fatalf("tokenize not idempotent:\n%s\n%s", once, twice)
	}
}

func TestTokenizePaymentCardLuhn(t *testing.T) {
	tok := NewTokenizer(DefaultConfig())
	out := tok.Tokenize("card 4111 1111 1111 1111 expires soon")
	if strings.Contains(out, "4111") {
		t.Fatalf("valid card not redacted: %s", out)
	}
	// Same shape, fails Luhn: left alone.
	out = tok.Tokenize("card 4111 1111 1111 1112 expires soon")
	if !strings.Contains(out, "1112") {
		t.Fatalf("luhn-invalid sequence should survive: %s", out)
	}
}

func TestTokenizeGovID(t *testing.T) {
	tok := NewTokenizer(DefaultConfig())
	out := tok.Tokenize("ssn 123-45-6789 on file")
	if strings.Contains(out, "123-45-6789") {
		t.Fatalf("gov id not redacted: %s", out)
	}
	if !strings.Contains(out, "[GOV_ID_1]") {
		t.Fatalf("expected GOV_ID token, got %s", out)
	}
}

func TestTokenizeCustomPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Custom = map[string]string{"badge": `EMP-[0-9]{6}`}
	tok := NewTokenizer(cfg)
	out := tok.Tokenize("badge EMP-123456 checked in")
	if !strings.Contains(out, "[BADGE_1]") {
		t.Fatalf("expected custom token, got %s", out)
	}
}

func TestTokenizerDisabled(t *testing.T) {
	tok := NewTokenizer(Config{Enabled: false})
	input := "a@b.com"
	if out := tok.Tokenize(input); out != input {
		t.Fatalf("disabled tokenizer should be a passthrough, got %s", out)
	}
	if tok.Count() != 0 {
		t.Fatalf("expected no redactions")
	}
}
