package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zerolog.Nop())
}

func TestRegisterDecodesResult(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/tests/dissonance_test/rooms/r1/participants" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"participant_id": "p1",
			"token":          "tok",
			"question_count": 20,
			"status":         "in_progress",
		})
	})

	res, err := c.Register(t.Context(), "dissonance_test", "r1", "dev-1", model.RegistrationFields{
		Name:       "Ada",
		ExternalID: "s-42",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.ParticipantID != "p1" || res.Token != "tok" || res.QuestionCount != 20 {
		t.Fatalf("result = %+v", res)
	}
	if res.Completed() {
		t.Fatal("in_progress must not report completed")
	}
	if gotBody["device_fingerprint"] != "dev-1" || gotBody["name"] != "Ada" || gotBody["external_id"] != "s-42" {
		t.Fatalf("request body = %v", gotBody)
	}
}

func TestSubmitConflictMapsToAlreadyCompleted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"detail": "attempt finished"})
	})

	_, err := c.Submit(t.Context(), "p1", "tok", []int{1, 2, 3})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
	if !IsRejection(err) {
		t.Fatal("conflict should count as a rejection")
	}
}

func TestErrorBodyDetailSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "name required"})
	})

	_, err := c.Register(t.Context(), "dissonance_test", "r1", "dev-1", model.RegistrationFields{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusUnprocessableEntity || se.Detail != "name required" {
		t.Fatalf("status error = %+v", se)
	}
	if !IsRejection(err) {
		t.Fatal("4xx should count as a rejection")
	}
}

func TestServerErrorIsNotRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.MarkCompletion(t.Context(), "dev-1", model.TestPersonality, "global")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if IsRejection(err) {
		t.Fatal("5xx must be treated as transient, not a rejection")
	}
}

func TestCheckCompletionQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("device_id") != "dev-1" || q.Get("test_type") != "personality_test" || q.Get("room_key") != "global" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"has_completed": true})
	})

	ok, err := c.CheckCompletion(t.Context(), "dev-1", model.TestPersonality, "global")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatal("has_completed not decoded")
	}
}

func TestSaveStepSendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/participants/p1/steps/3" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.SaveStep(t.Context(), "p1", "tok", 3, 7); err != nil {
		t.Fatalf("save step: %v", err)
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c := NewClient(srv.URL, 50*time.Millisecond, zerolog.Nop())

	_, err := c.GetRoomInfo(t.Context(), "personality_test", "r1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if IsRejection(err) {
		t.Fatalf("timeout must be transient, got rejection: %v", err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Fatalf("timeout must not carry a status: %v", err)
	}
}
