package image

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newReplicateServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ReplicateGenerator) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gen := NewReplicateGenerator(ReplicateOptions{
		APIToken: "r8_test",
		BaseURL:  srv.URL,
		Timeout:  5 * time.Second,
	})
	return srv, gen
}

func TestReplicateGenerateSuccess(t *testing.T) {
	imageBytes := []byte("fake-png-bytes")
	var srv *httptest.Server
	srv, gen := newReplicateServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predictions":
			if got := r.Header.Get("Authorization"); got != "Bearer r8_test" {
				t.Errorf("Authorization = %q", got)
			}
			if got := r.Header.Get("Prefer"); got != "wait" {
				t.Errorf("Prefer = %q, want wait", got)
			}
			var req replicatePredictionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.Input["prompt"] != "a lighthouse watercolor" {
				t.Errorf("prompt = %v", req.Input["prompt"])
			}
			_ = json.NewEncoder(w).Encode(replicatePredictionResponse{
				ID:     "pred_1",
				Status: "succeeded",
				Output: []string{srv.URL + "/files/out.png"},
			})
		case "/files/out.png":
			_, _ = w.Write(imageBytes)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "a lighthouse watercolor"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if string(res.Data) != string(imageBytes) {
		t.Fatalf("data = %q", res.Data)
	}
	if res.Metadata["prediction_id"] != "pred_1" {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
}

func TestReplicateErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"rate limited is transient", http.StatusTooManyRequests, ErrorKindTransient},
		{"server error is transient", http.StatusBadGateway, ErrorKindTransient},
		{"bad request is permanent", http.StatusBadRequest, ErrorKindPermanent},
		{"unauthorized is permanent", http.StatusUnauthorized, ErrorKindPermanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, gen := newReplicateServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "p"})
			if err == nil {
				t.Fatal("Generate() should fail")
			}
			if got := KindOf(err); got != tc.wantKind {
				t.Fatalf("kind = %s, want %s", got, tc.wantKind)
			}
		})
	}
}

func TestReplicateFailedPredictionIsPermanent(t *testing.T) {
	_, gen := newReplicateServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(replicatePredictionResponse{
			ID:     "pred_2",
			Status: "failed",
			Error:  "NSFW content detected",
		})
	})
	_, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("Generate() should fail")
	}
	if got := KindOf(err); got != ErrorKindPermanent {
		t.Fatalf("kind = %s, want permanent", got)
	}
}

func TestReplicateImageToImageSendsConditioningImage(t *testing.T) {
	var srv *httptest.Server
	srv, gen := newReplicateServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predictions" {
			var req replicatePredictionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			img, _ := req.Input["image"].(string)
			if !strings.HasPrefix(img, "data:image/png;base64,") {
				t.Errorf("image input = %q, want data URI", img)
			}
			if req.Input["strength"] != 0.8 {
				t.Errorf("strength = %v, want 0.8", req.Input["strength"])
			}
			_ = json.NewEncoder(w).Encode(replicatePredictionResponse{
				ID:     "pred_3",
				Status: "succeeded",
				Output: []string{srv.URL + "/files/out.png"},
			})
			return
		}
		fmt.Fprint(w, "bytes")
	})

	_, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "p", InputImage: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		base, style, want string
	}{
		{"a lighthouse", "watercolor", "a lighthouse watercolor"},
		{"a lighthouse", "", "a lighthouse"},
		{"  a lighthouse  ", "  oil painting ", "a lighthouse oil painting"},
	}
	for _, tc := range tests {
		if got := BuildPrompt(tc.base, tc.style); got != tc.want {
			t.Errorf("BuildPrompt(%q, %q) = %q, want %q", tc.base, tc.style, got, tc.want)
		}
	}
}

func TestRegistryUnknownModel(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Fatal("Get() of unregistered model should fail")
	}
}
