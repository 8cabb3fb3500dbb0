package timeutil

import (
	"testing"
	"time"
)

func TestAttributesDirectory(t *testing.T) {
	now := Now()
	attrs := Attributes(0, true, now, now)

	if !attrs.Mode.IsDir() {
		t.Fatalf("expected directory mode, got %v", attrs.Mode)
	}
	if attrs.Mode.Perm() != Permissions {
		t.Fatalf("expected permissions %o, got %o", Permissions, attrs.Mode.Perm())
	}
}

func TestAttributesFile(t *testing.T) {
	now := Now()
	attrs := Attributes(42, false, now, now)

	if attrs.Mode.IsDir() {
		t.Fatalf("expected regular file mode, got %v", attrs.Mode)
	}
	if attrs.Size != 42 {
		t.Fatalf("expected size 42, got %v", attrs.Size)
	}
	if attrs.Nlink != 1 {
		t.Fatalf("expected nlink 1, got %v", attrs.Nlink)
	}
}

func TestExpirationIsShortLived(t *testing.T) {
	before := time.Now()
	exp := Expiration()
	if exp.Before(before) || exp.After(before.Add(time.Second)) {
		t.Fatalf("expiration %v should be within a second of %v", exp, before)
	}
}

func TestUnixRoundTrip(t *testing.T) {
	now := Now()
	seconds := ToUnix(now)
	back := FromUnix(seconds)
	if !back.Equal(now) {
		t.Fatalf("round trip mismatch: %v != %v", back, now)
	}
}
