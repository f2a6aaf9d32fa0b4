package key

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := Run(&out, "dev-secret", "S1", "kitchen", time.Hour); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{"TOKEN:", "sub:  S1", "role: staff"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := Run(&out, "", "S1", "staff", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
}
