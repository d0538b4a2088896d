package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/ec2-inventory/internal/inventory"
	"github.com/edvin/ec2-inventory/internal/model"
)

func TestWriteJSON_Document(t *testing.T) {
	w := httptest.NewRecorder()
	doc := model.NewDocument()
	doc.Groups["k8s_master"] = model.NewGroup()
	doc.Groups["k8s_master"].Hosts = []string{"10.0.1.10"}

	WriteJSON(w, http.StatusOK, doc)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "k8s_master")
	assert.Contains(t, body, "_meta")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusServiceUnavailable, "jump host unreachable")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "jump host unreachable", body["error"])
}

func hostDocument() *model.Document {
	doc := model.NewDocument()
	doc.HostVars["10.0.2.20"] = model.InstanceRecord{ID: "i-w1", PrivateAddress: "10.0.2.20"}
	return doc
}

func TestWriteInventory(t *testing.T) {
	tests := []struct {
		name    string
		address string
		check   func(t *testing.T, body []byte)
	}{
		{"whole document", "", func(t *testing.T, body []byte) {
			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(body, &raw))
			assert.Contains(t, raw, "_meta")
		}},
		{"known host", "10.0.2.20", func(t *testing.T, body []byte) {
			var rec model.InstanceRecord
			require.NoError(t, json.Unmarshal(body, &rec))
			assert.Equal(t, "i-w1", rec.ID)
		}},
		{"unknown host", "10.9.9.9", func(t *testing.T, body []byte) {
			assert.JSONEq(t, `{}`, string(body))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteInventory(w, hostDocument(), tt.address)

			assert.Equal(t, http.StatusOK, w.Code)
			tt.check(t, w.Body.Bytes())
		})
	}
}

func TestWriteRunError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRunError(w, fmt.Errorf("%w: gave up after 3 attempts", inventory.ErrJumpHostUnreachable))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "jump host unreachable")

	w = httptest.NewRecorder()
	WriteRunError(w, errors.New("secret internal detail"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret internal detail")
}
