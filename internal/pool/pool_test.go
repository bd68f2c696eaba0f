package pool

import (
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grpcgate/grpcgate/config"
)

func TestRawCodecRoundTrip(t *testing.T) {
	c := rawCodec{}

	in := []byte(`{"name":"alice"}`)
	framed, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(framed) != string(in) {
		t.Errorf("Marshal altered payload: %q", framed)
	}

	var out []byte
	if err := c.Unmarshal(framed, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("Unmarshal altered payload: %q", out)
	}
}

func TestRawCodecRejectsWrongTypes(t *testing.T) {
	c := rawCodec{}
	if _, err := c.Marshal("not a byte slice pointer"); err == nil {
		t.Error("Marshal should reject non-*[]byte values")
	}
	if err := c.Unmarshal(nil, 42); err == nil {
		t.Error("Unmarshal should reject non-*[]byte values")
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		code codes.Code
		want bool
	}{
		{codes.Unavailable, true},
		{codes.DeadlineExceeded, true},
		{codes.ResourceExhausted, true},
		{codes.InvalidArgument, false},
		{codes.NotFound, false},
		{codes.Internal, false},
		{codes.PermissionDenied, false},
		{codes.Unauthenticated, false},
		{codes.FailedPrecondition, false},
	}
	for _, tc := range tests {
		err := status.Error(tc.code, "x")
		if got := retryable(err); got != tc.want {
			t.Errorf("retryable(%v) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if retryable(nil) {
		t.Error("retryable(nil) must be false")
	}
}

func TestServicesSorted(t *testing.T) {
	p := New(map[string]config.UpstreamConfig{
		"orders": {Endpoint: "orders:9000"},
		"auth":   {Endpoint: "auth:9000"},
		"users":  {Endpoint: "users:9000"},
	})
	got := p.Services()
	want := []string{"auth", "orders", "users"}
	if len(got) != len(want) {
		t.Fatalf("Services() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Services() = %v, want %v", got, want)
		}
	}
}

func TestTimeoutFallsBackToDefault(t *testing.T) {
	p := New(map[string]config.UpstreamConfig{
		"users": {Endpoint: "users:9000", Timeout: 3 * time.Second},
	})
	if got := p.Timeout("users"); got != 3*time.Second {
		t.Errorf("Timeout(users) = %v, want 3s", got)
	}
	if got := p.Timeout("unknown"); got != config.DefaultUpstreamTimeout {
		t.Errorf("Timeout(unknown) = %v, want default", got)
	}
}
