package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jimjcranshaw/janet-contracts-project/internal/services"
)

func TestGetStatus(t *testing.T) {
	lag := 120.5
	svc := &stubStatusService{
		status: func(ctx context.Context, connector string) (*services.ConnectorStatus, error) {
			if connector != "fts" {
				return nil, services.ErrConnectorNotFound
			}
			return &services.ConnectorStatus{Connector: "fts", Cursor: "2026-08-29", LagSeconds: &lag}, nil
		},
	}
	r := testRouter(nil, nil, svc)

	w := doRequest(t, r, http.MethodGet, "/status/fts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("known connector: %d", w.Code)
	}
	var st services.ConnectorStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Cursor != "2026-08-29" || st.LagSeconds == nil || *st.LagSeconds != lag {
		t.Fatalf("body: %+v", st)
	}

	if w := doRequest(t, r, http.MethodGet, "/status/mystery", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown connector: %d", w.Code)
	}
}
