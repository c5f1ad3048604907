package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/signature"
)

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

func (a *API) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := directory.ParseEntityType(req.Type)
	if err != nil {
		mapError(w, err)
		return
	}
	e, err := a.dir.Create(r.Context(), directory.NewEntity{
		Name:    req.Name,
		Type:    t,
		MMSI:    req.MMSI,
		Version: req.Version,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityResponse(e))
}

func (a *API) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := a.dir.List(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	out := make([]EntityResponse, 0, len(entities))
	for _, e := range entities {
		out = append(out, entityResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := a.dir.Get(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entityResponse(e))
}

func (a *API) CorrectEntity(w http.ResponseWriter, r *http.Request) {
	var req CorrectEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := a.dir.Correct(r.Context(), chi.URLParam(r, "entityID"), directory.Correction{
		Name: req.Name,
		MMSI: req.MMSI,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entityResponse(e))
}

// DeleteEntity removes an entity and its certificates. Every
// certificate must already be revoked: the cascade enforces the
// revoked-before-delete precondition per certificate before touching
// the entity row.
func (a *API) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "entityID")

	certs, err := a.lc.List(ctx, entityID)
	if err != nil {
		mapError(w, err)
		return
	}
	for _, rec := range certs {
		if err := a.lc.Delete(ctx, rec.ID); err != nil {
			mapError(w, err)
			return
		}
	}
	if err := a.dir.Delete(ctx, entityID); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Certificates
// ---------------------------------------------------------------------------

func (a *API) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	rec, err := a.lc.Generate(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, certificateResponse(rec))
}

func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := a.lc.List(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		mapError(w, err)
		return
	}
	out := make([]CertificateResponse, 0, len(certs))
	for _, rec := range certs {
		out = append(out, certificateResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	rec, err := a.lc.Get(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certificateResponse(rec))
}

func (a *API) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	rec, err := a.lc.Revoke(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certificateResponse(rec))
}

func (a *API) DeleteCertificate(w http.ResponseWriter, r *http.Request) {
	if err := a.lc.Delete(r.Context(), chi.URLParam(r, "certID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Synchronize reconciles the entity's local certificate set with the
// registry. Failures are reported but never corrupt local state.
func (a *API) Synchronize(w http.ResponseWriter, r *http.Request) {
	if err := a.lc.Synchronize(r.Context(), chi.URLParam(r, "entityID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

func selector(req SelectorRequest) signature.Selector {
	return signature.Selector{
		EntityID: req.EntityID,
		MRN:      req.MRN,
		MMSI:     req.MMSI,
		Name:     req.Name,
		Type:     directory.EntityType(req.Type),
		Version:  req.Version,
	}
}

func (a *API) Sign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()

	certID := req.CertificateID
	if certID == "" {
		rec, err := a.sig.Resolve(ctx, selector(req.SelectorRequest))
		if err != nil {
			mapError(w, err)
			return
		}
		certID = rec.ID
	}

	res, err := a.sig.Sign(ctx, certID, req.Algorithm, req.Payload)
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("X-Signature-Certificate", res.CertificatePEM)
	w.Header().Set("X-Signature-Algorithm", res.Algorithm)
	w.Header().Set("X-Root-Thumbprint", res.RootThumbprint)
	writeJSON(w, http.StatusOK, SignResponse{
		Signature:      res.Signature,
		Certificate:    res.CertificatePEM,
		Algorithm:      res.Algorithm,
		RootThumbprint: res.RootThumbprint,
	})
}

func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	valid, err := a.sig.Verify(r.Context(), selector(req.SelectorRequest), req.Algorithm, req.Content, req.Signature)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

// ---------------------------------------------------------------------------
// Trust
// ---------------------------------------------------------------------------

func (a *API) Thumbprint(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	algorithm := r.URL.Query().Get("algorithm")
	thumb, err := a.trust.Thumbprint(alias, algorithm)
	if err != nil {
		mapError(w, err)
		return
	}
	if algorithm == "" {
		algorithm = "SHA-256"
	}
	writeJSON(w, http.StatusOK, ThumbprintResponse{
		Alias:      alias,
		Algorithm:  algorithm,
		Thumbprint: thumb,
	})
}
