package dispute

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/enablr/escrowd/internal/escrow"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *mockControl) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	control := &mockControl{}
	svc := NewService(store, control, testLogger())

	r := gin.New()
	v1 := r.Group("/v1")
	NewHandler(svc).RegisterRoutes(v1)
	return r, control
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_FileAndResolve(t *testing.T) {
	router, control := setupTestRouter(t)

	w := postJSON(t, router, "/v1/disputes", FileRequest{
		EscrowID: "esc_h1",
		FiledBy:  "guest_1",
		Reason:   "sound system failed mid-event",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var filed Dispute
	if err := json.Unmarshal(w.Body.Bytes(), &filed); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if filed.Status != StatusOpen {
		t.Errorf("Expected open, got %s", filed.Status)
	}
	if len(control.frozen) != 1 {
		t.Errorf("Expected freeze call, got %v", control.frozen)
	}

	// Get it back.
	req := httptest.NewRequest("GET", "/v1/disputes/"+filed.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Get: expected 200, got %d", w.Code)
	}

	// Resolve with an adjustment.
	w = postJSON(t, router, "/v1/disputes/"+filed.ID+"/resolve", ResolveRequest{
		Resolution:  "adjust",
		PayoutCents: 4000,
		Notes:       "partial refund",
		ResolvedBy:  "arbiter_1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resolved Dispute
	json.Unmarshal(w.Body.Bytes(), &resolved)
	if resolved.Status != StatusResolved {
		t.Errorf("Expected resolved, got %s", resolved.Status)
	}

	// Resolving again conflicts.
	w = postJSON(t, router, "/v1/disputes/"+filed.ID+"/resolve", ResolveRequest{
		Resolution: "dismiss",
		ResolvedBy: "arbiter_1",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for double resolve, got %d", w.Code)
	}
}

func TestHandler_FileValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := postJSON(t, router, "/v1/disputes", FileRequest{EscrowID: "esc_h2"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without filedBy/reason, got %d", w.Code)
	}
}

func TestHandler_FileUnknownEscrow(t *testing.T) {
	router, control := setupTestRouter(t)
	control.getErr = escrow.ErrEscrowNotFound

	w := postJSON(t, router, "/v1/disputes", FileRequest{
		EscrowID: "esc_missing",
		FiledBy:  "guest_1",
		Reason:   "no-show",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest("GET", "/v1/disputes/dsp_missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_ListByEscrow(t *testing.T) {
	router, _ := setupTestRouter(t)

	for range [3]struct{}{} {
		w := postJSON(t, router, "/v1/disputes", FileRequest{
			EscrowID: "esc_h3",
			FiledBy:  "guest_1",
			Reason:   "claim",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("File: expected 201, got %d", w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/v1/escrows/esc_h3/disputes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Disputes []*Dispute `json:"disputes"`
		Count    int        `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 3 {
		t.Errorf("Expected 3 disputes, got %d", resp.Count)
	}
}
