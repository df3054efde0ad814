package pipe

import (
	"errors"
	"testing"
)

func TestDecider_Decide(t *testing.T) {
	testErr := errors.New("boom")

	tests := []struct {
		name    string
		decider Decider
		want    Directive
	}{
		{"nil", nil, Stop},
		{"stopping", StoppingDecider, Stop},
		{"resuming", ResumingDecider, Resume},
		{"selective", func(err error) Directive {
			if errors.Is(err, testErr) {
				return Resume
			}
			return Stop
		}, Resume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, cause := tt.decider.Decide(testErr)
			if dir != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, dir)
			}
			if cause != testErr {
				t.Errorf("Expected cause %v, got %v", testErr, cause)
			}
		})
	}
}

func TestDecider_PanicStops(t *testing.T) {
	d := Decider(func(error) Directive { panic("bad decider") })

	dir, cause := d.Decide(errors.New("boom"))
	if dir != Stop {
		t.Errorf("Expected Stop, got %v", dir)
	}
	var rerr *RecoveryError
	if !errors.As(cause, &rerr) {
		t.Fatalf("Expected *RecoveryError, got %T", cause)
	}
	if rerr.PanicValue != "bad decider" {
		t.Errorf("Expected panic value, got %v", rerr.PanicValue)
	}
	if rerr.StackTrace == "" {
		t.Error("Expected stack trace")
	}
}

func TestDirective_String(t *testing.T) {
	if Stop.String() != "stop" || Resume.String() != "resume" {
		t.Errorf("unexpected strings %q %q", Stop, Resume)
	}
}
