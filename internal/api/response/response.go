// Package response writes the inventory server's JSON replies.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edvin/ec2-inventory/internal/inventory"
	"github.com/edvin/ec2-inventory/internal/model"
)

// WriteJSON writes v with status. Inventory replies change with every scaling
// event, so nothing may be cached downstream.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteInventory writes the whole document, or only the hostvars of address
// when it is set. An unknown address yields {}.
func WriteInventory(w http.ResponseWriter, doc *model.Document, address string) {
	if address == "" {
		WriteJSON(w, http.StatusOK, doc)
		return
	}
	WriteJSON(w, http.StatusOK, doc.HostVarsFor(address))
}

// WriteRunError maps a failed synthesis to a reply. An unreachable jump host
// is 503 so a load balancer or Ansible retry can try again; anything else is
// a 500 without internal detail.
func WriteRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, inventory.ErrJumpHostUnreachable) {
		WriteError(w, http.StatusServiceUnavailable, inventory.ErrJumpHostUnreachable.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "inventory synthesis failed")
}
