package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/lifecycle"
	"github.com/maritimelab/seatrust/registry"
	"github.com/maritimelab/seatrust/signature"
	"github.com/maritimelab/seatrust/storage"
	"github.com/maritimelab/seatrust/truststore"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapError translates service errors into client-facing statuses.
// Connectivity errors get 502 so operators can tell "the registry is
// down" from "our input was wrong".
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrEntityNotFound),
		errors.Is(err, lifecycle.ErrCertNotFound),
		errors.Is(err, lifecycle.ErrNoActiveCertificate),
		errors.Is(err, truststore.ErrAliasNotFound),
		errors.Is(err, registry.ErrEntityNotKnown),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrNotRevoked),
		errors.Is(err, directory.ErrDuplicateMRN),
		errors.Is(err, directory.ErrDuplicateMMSI),
		errors.Is(err, directory.ErrEntityHasCertificates),
		errors.Is(err, signature.ErrNoPrivateKey),
		errors.Is(err, signature.ErrCertificateRevoked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrUnknownEntityType),
		errors.Is(err, directory.ErrInvalidMMSI),
		errors.Is(err, directory.ErrVersionRequired),
		errors.Is(err, keys.ErrUnknownCurve),
		errors.Is(err, keys.ErrUnknownAlgorithm),
		errors.Is(err, keys.ErrInvalidPEM),
		errors.Is(err, truststore.ErrUnknownDigest),
		errors.Is(err, signature.ErrEmptySelector):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrRegistryUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
