package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// maxBodySize caps a submission request body.
const maxBodySize = 64 << 10

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, code, message string) {
	resp := apiError{}
	resp.Error.Code = code
	resp.Error.Message = message
	jsonResponse(w, status, resp)
}

// router serves one session. Paths naming any other session id are 404.
func (m *Manager) router(sessionID string) http.Handler {
	bound := func(h func(http.ResponseWriter, *http.Request, *session)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "sessionId")
			var s *session
			if id == sessionID {
				s = m.lookup(id)
			}
			if s == nil {
				if r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/api/") {
					http.Error(w, "This form does not exist.", http.StatusNotFound)
					return
				}
				jsonError(w, http.StatusNotFound, "NOT_FOUND", "Unknown form session")
				return
			}
			h(w, r, s)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/form/{sessionId}", bound(m.handlePage))
	r.Post("/api/form/{sessionId}/submit", bound(m.handleSubmit))
	r.Get("/api/form/{sessionId}/status", bound(m.handleStatus))
	return r
}

func (m *Manager) handlePage(w http.ResponseWriter, r *http.Request, s *session) {
	snap := s.snapshot(m.clock.Now())
	if snap.Status != StatusActive {
		http.Error(w, "This form is no longer available.", http.StatusGone)
		return
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{
		Schema:    snap.Schema,
		SubmitURL: "/api/form/" + snap.ID + "/submit",
	}); err != nil {
		m.logger.Error("rendering form page", "session", snap.ID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Write(buf.Bytes())
}

func (m *Manager) handleStatus(w http.ResponseWriter, _ *http.Request, s *session) {
	jsonResponse(w, http.StatusOK, s.statusView(m.clock.Now()))
}

func (m *Manager) handleSubmit(w http.ResponseWriter, r *http.Request, s *session) {
	if s.limiter != nil && !s.limiter.Allow() {
		jsonError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions, try again shortly")
		return
	}

	payload, err := decodePayload(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "INVALID_INPUT", "Request body must be a JSON object")
		return
	}

	res, err := m.Submit(r.Context(), s.info.ID, payload, r.RemoteAddr)
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		jsonError(w, http.StatusNotFound, "NOT_FOUND", "Unknown form session")
		return
	case errors.Is(err, types.ErrSessionNotActive):
		jsonError(w, http.StatusGone, "NOT_ACTIVE", "This form is no longer accepting submissions")
		return
	case err != nil:
		jsonError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save the submitted secrets")
		return
	}

	if !res.Accepted {
		jsonResponse(w, http.StatusUnprocessableEntity, res)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// decodePayload reads a JSON object keyed by secret name. String values
// are taken as is; any other JSON value is kept as its raw encoding.
func decodePayload(r io.Reader) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, types.ErrInvalidPayload
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if string(v) == "null" {
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

type pageData struct {
	Schema    Schema
	SubmitURL string
}

var pageTemplate = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="referrer" content="no-referrer">
<title>{{.Schema.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 32rem; margin: 3rem auto; padding: 0 1rem; }
label { display: block; margin-top: 1rem; font-weight: 600; }
input, textarea, select { width: 100%; padding: .5rem; margin-top: .25rem; box-sizing: border-box; }
.hint { color: #555; font-size: .875rem; }
.error { color: #b00020; font-size: .875rem; }
button { margin-top: 1.5rem; padding: .6rem 1.2rem; }
</style>
</head>
<body>
<h1>{{.Schema.Title}}</h1>
{{with .Schema.Description}}<p>{{.}}</p>{{end}}
<form id="secret-form" autocomplete="off" data-submit="{{.SubmitURL}}">
{{range .Schema.Fields}}
<label for="f-{{.Name}}">{{.Label}}{{if .Required}} *{{end}}</label>
{{with .Description}}<div class="hint">{{.}}</div>{{end}}
{{if eq .Type "textarea"}}<textarea id="f-{{.Name}}" name="{{.Name}}" rows="6" placeholder="{{.Placeholder}}"{{if .Required}} required{{end}}></textarea>
{{else if eq .Type "select"}}<select id="f-{{.Name}}" name="{{.Name}}"{{if .Required}} required{{end}}>{{range .Options}}<option value="{{.}}">{{.}}</option>{{end}}</select>
{{else}}<input id="f-{{.Name}}" name="{{.Name}}" type="{{.Type}}" placeholder="{{.Placeholder}}"{{if .Required}} required{{end}}>
{{end}}<div class="error" data-error="{{.Name}}"></div>
{{end}}
<button type="submit">{{.Schema.SubmitLabel}}</button>
</form>
<p id="result"></p>
<script>
const form = document.getElementById("secret-form");
form.addEventListener("submit", async (e) => {
  e.preventDefault();
  document.querySelectorAll("[data-error]").forEach((el) => { el.textContent = ""; });
  const body = {};
  new FormData(form).forEach((v, k) => { body[k] = v; });
  const res = await fetch(form.dataset.submit, {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify(body),
  });
  const data = await res.json().catch(() => ({}));
  const out = document.getElementById("result");
  if (res.ok) {
    form.remove();
    out.textContent = data.message || "Saved.";
    return;
  }
  if (data.errors) {
    for (const [k, msg] of Object.entries(data.errors)) {
      const el = document.querySelector('[data-error="' + k + '"]');
      if (el) el.textContent = msg;
    }
    return;
  }
  out.textContent = (data.error && data.error.message) || "Submission failed.";
});
</script>
</body>
</html>
`))
