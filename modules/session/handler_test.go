package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanostyle-server/modules/common/dataurl"
	"nanostyle-server/modules/intake"
	"nanostyle-server/modules/tryon"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake")

type fakeResultLookup struct {
	results map[string]string
	err     error
}

func (f *fakeResultLookup) LookupResult(_ context.Context, sessionID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	url, ok := f.results[sessionID]
	return url, ok, nil
}

type apiFixture struct {
	*fixture
	router *mux.Router
	cache  *fakeResultLookup
}

func newAPIFixture(t *testing.T, maxUpload int64) *apiFixture {
	t.Helper()
	f := newFixture(t)
	cache := &fakeResultLookup{results: map[string]string{}}

	h := NewHandler(f.manager, intake.New(f.previews, maxUpload), f.previews, cache, maxUpload)
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	return &apiFixture{fixture: f, router: r, cache: cache}
}

func (a *apiFixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *apiFixture) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, method, path, bytes.NewBufferString(body), "application/json")
}

func (a *apiFixture) upload(t *testing.T, id string, role Role, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	return a.do(t, http.MethodPut, "/api/sessions/"+id+"/images/"+string(role), body, contentType)
}

func (a *apiFixture) createSession(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeView(t, rec).ID
}

func (a *apiFixture) readySession(t *testing.T) string {
	t.Helper()
	id := a.createSession(t)
	require.Equal(t, http.StatusOK, a.upload(t, id, RolePerson, "me.png", pngBytes).Code)
	require.Equal(t, http.StatusOK, a.upload(t, id, RoleGarment, "shirt.png", pngBytes).Code)
	return id
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) View {
	t.Helper()
	var v View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSessionAPI(t *testing.T) {
	t.Run("create and get", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		view := decodeView(t, rec)
		assert.Equal(t, StatusIdle, view.Status)
		assert.False(t, view.CanGenerate)
		assert.Equal(t, Suggestions, view.Suggestions)
	})

	t.Run("unknown session", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)

		rec := a.do(t, http.MethodGet, "/api/sessions/nope", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decodeError(t, rec), "session not found")
	})

	t.Run("delete", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.readySession(t)

		assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/sessions/"+id, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/sessions/"+id, nil, "").Code)
		assert.Zero(t, a.previews.Len())
	})
}

func TestImageAPI(t *testing.T) {
	t.Run("upload sniffs the type and serves a preview", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.upload(t, id, RolePerson, "me.png", pngBytes)
		require.Equal(t, http.StatusOK, rec.Code)

		view := decodeView(t, rec)
		require.NotNil(t, view.Person)
		assert.Equal(t, "image/png", view.Person.ContentType)
		assert.Equal(t, "me.png", view.Person.FileName)
		assert.Equal(t, len(pngBytes), view.Person.Size)
		assert.Nil(t, view.Garment)

		preview := a.do(t, http.MethodGet, view.Person.PreviewURL, nil, "")
		require.Equal(t, http.StatusOK, preview.Code)
		assert.Equal(t, "image/png", preview.Header().Get("Content-Type"))
		assert.Equal(t, pngBytes, preview.Body.Bytes())
	})

	t.Run("missing file is a no-op", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		body, contentType := multipartBody(t, "", "", nil)
		rec := a.do(t, http.MethodPut, "/api/sessions/"+id+"/images/person", body, contentType)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Zero(t, a.previews.Len())
	})

	t.Run("too large", func(t *testing.T) {
		a := newAPIFixture(t, 8)
		id := a.createSession(t)

		rec := a.upload(t, id, RoleGarment, "big.png", pngBytes)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Zero(t, a.previews.Len())
	})

	t.Run("unknown role", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.upload(t, id, Role("shoes"), "x.png", pngBytes)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.doJSON(t, http.MethodPut, "/api/sessions/"+id+"/images/person", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("clear", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.readySession(t)

		rec := a.do(t, http.MethodDelete, "/api/sessions/"+id+"/images/garment", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		view := decodeView(t, rec)
		assert.Nil(t, view.Garment)
		assert.NotNil(t, view.Person)
		assert.Equal(t, 1, a.previews.Len())
	})

	t.Run("unknown preview", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/previews/nope", nil, "").Code)
	})
}

func TestGenerateAPI(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.readySession(t)

		rec := a.do(t, http.MethodPost, "/api/sessions/"+id+"/generate", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		view := decodeView(t, rec)
		assert.Equal(t, StatusSuccess, view.Status)
		assert.Equal(t, resultA, view.Result)
	})

	t.Run("not ready", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.do(t, http.MethodPost, "/api/sessions/"+id+"/generate", nil, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("model failure", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.readySession(t)
		a.gen.GenerateTryOnFunc = func(context.Context, tryon.ImagePayload, tryon.ImagePayload) (string, error) {
			return "", tryon.ErrNoImageProduced
		}

		rec := a.do(t, http.MethodPost, "/api/sessions/"+id+"/generate", nil, "")
		require.Equal(t, http.StatusBadGateway, rec.Code)

		view := decodeView(t, rec)
		assert.Equal(t, StatusError, view.Status)
		assert.Equal(t, "no image was produced by the model", view.Error)
	})

	t.Run("rate limited", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.readySession(t)
		a.gen.GenerateTryOnFunc = func(context.Context, tryon.ImagePayload, tryon.ImagePayload) (string, error) {
			return "", errors.New("Error 429, Message: Resource has been exhausted")
		}

		rec := a.do(t, http.MethodPost, "/api/sessions/"+id+"/generate", nil, "")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, StatusError, decodeView(t, rec).Status)
	})
}

func TestPromptAndEditAPI(t *testing.T) {
	generated := func(t *testing.T, a *apiFixture) string {
		t.Helper()
		id := a.readySession(t)
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/sessions/"+id+"/generate", nil, "").Code)
		return id
	}

	t.Run("suggestion fills the prompt", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.doJSON(t, http.MethodPut, "/api/sessions/"+id+"/prompt", `{"suggestion": 2}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Vintage style", decodeView(t, rec).EditPrompt)
	})

	t.Run("free text prompt", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		rec := a.doJSON(t, http.MethodPut, "/api/sessions/"+id+"/prompt", `{"prompt": "Red hat"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Red hat", decodeView(t, rec).EditPrompt)
	})

	t.Run("invalid prompt bodies", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		assert.Equal(t, http.StatusBadRequest, a.doJSON(t, http.MethodPut, "/api/sessions/"+id+"/prompt", `{`).Code)
		assert.Equal(t, http.StatusBadRequest, a.doJSON(t, http.MethodPut, "/api/sessions/"+id+"/prompt", `{}`).Code)
		assert.Equal(t, http.StatusBadRequest, a.doJSON(t, http.MethodPut, "/api/sessions/"+id+"/prompt", `{"suggestion": 9}`).Code)
	})

	t.Run("edit with inline prompt", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := generated(t, a)

		var gotPrompt string
		a.gen.EditGeneratedImageFunc = func(_ context.Context, _ string, prompt string) (string, error) {
			gotPrompt = prompt
			return resultB, nil
		}

		rec := a.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/edit", `{"prompt": "Cinematic lighting"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		view := decodeView(t, rec)
		assert.Equal(t, "Cinematic lighting", gotPrompt)
		assert.Equal(t, resultB, view.Result)
		assert.Empty(t, view.EditPrompt)
	})

	t.Run("edit without prompt is a conflict", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := generated(t, a)

		rec := a.do(t, http.MethodPost, "/api/sessions/"+id+"/edit", nil, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("busy edit with a prompt leaves the session alone", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := generated(t, a)

		started := make(chan struct{})
		release := make(chan struct{})
		a.gen.EditGeneratedImageFunc = func(context.Context, string, string) (string, error) {
			close(started)
			<-release
			return resultB, nil
		}

		done := make(chan int, 1)
		go func() {
			done <- a.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/edit", `{"prompt": "first"}`).Code
		}()
		<-started

		rec := a.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/edit", `{"prompt": "second"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)

		current := decodeView(t, a.do(t, http.MethodGet, "/api/sessions/"+id, nil, ""))
		assert.Equal(t, StatusLoading, current.Status)
		assert.Equal(t, "first", current.EditPrompt)

		close(release)
		assert.Equal(t, http.StatusOK, <-done)

		_, editCalls := a.gen.calls()
		assert.Equal(t, 1, editCalls)
	})

	t.Run("failed edit keeps the previous result", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := generated(t, a)
		a.gen.EditGeneratedImageFunc = func(context.Context, string, string) (string, error) {
			return "", tryon.ErrEditFailed
		}

		rec := a.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/edit", `{"prompt": "Studio background"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)

		view := decodeView(t, rec)
		assert.Equal(t, resultA, view.Result)
		assert.Equal(t, "Failed to edit the image. Try again with a different prompt.", view.Error)
	})
}

func TestDownloadAPI(t *testing.T) {
	t.Run("live session", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.readySession(t)
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/sessions/"+id+"/generate", nil, "").Code)

		rec := a.do(t, http.MethodGet, "/api/sessions/"+id+"/result", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="nanostyle-tryon.png"`, rec.Header().Get("Content-Disposition"))

		parsed, err := dataurl.Parse(resultA)
		require.NoError(t, err)
		want, err := parsed.Bytes()
		require.NoError(t, err)
		assert.Equal(t, want, rec.Body.Bytes())
	})

	t.Run("no result yet", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		id := a.createSession(t)

		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/sessions/"+id+"/result", nil, "").Code)
	})

	t.Run("falls back to the result cache", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		a.cache.results["gone"] = resultB

		rec := a.do(t, http.MethodGet, "/api/sessions/gone/result", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []byte("RESULTB"), rec.Body.Bytes())
	})

	t.Run("cache errors are treated as a miss", func(t *testing.T) {
		a := newAPIFixture(t, 1<<20)
		a.cache.err = errors.New("redis down")

		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/sessions/gone/result", nil, "").Code)
	})
}

func TestMiscAPI(t *testing.T) {
	a := newAPIFixture(t, 1<<20)
	a.readySession(t)

	rec := a.do(t, http.MethodGet, "/api/suggestions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Add dark sunglasses"))

	rec = a.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Server   MetricsSnapshot `json:"server"`
		Previews int             `json:"previews"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Server.ActiveSessions)
	assert.Equal(t, 2, body.Previews)

	rec = a.do(t, http.MethodPost, "/admin/cleanup", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleaned":0`)
}
