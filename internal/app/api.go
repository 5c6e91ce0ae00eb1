package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/signdeck/internal/capture"
	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/library"
	"github.com/MrWong99/signdeck/internal/playback"
	"github.com/MrWong99/signdeck/internal/translate"
	"github.com/MrWong99/signdeck/pkg/types"
)

// maxUploadBytes bounds a single uploaded clip.
const maxUploadBytes = 256 << 20

// routes builds the HTTP control surface.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	// Library (search / browse / catalog edits)
	mux.HandleFunc("GET /v1/library", a.handleLibrary)
	mux.HandleFunc("PUT /v1/library/query", a.handleSetQuery)
	mux.HandleFunc("POST /v1/library/save", a.handleSaveRemote)
	mux.HandleFunc("DELETE /v1/library/{word}", a.handleDelete)
	mux.HandleFunc("DELETE /v1/library", a.handleDeleteAll)
	mux.HandleFunc("GET /v1/resolve", a.handleResolve)

	// Transcript and unknown words
	mux.HandleFunc("POST /v1/transcript", a.handleTranscript)
	mux.HandleFunc("DELETE /v1/transcript", a.handleResetTranscript)
	mux.HandleFunc("GET /v1/unknown", a.handleUnknown)
	mux.HandleFunc("POST /v1/unknown/next", a.handleSelect(a.translatorNext))
	mux.HandleFunc("POST /v1/unknown/previous", a.handleSelect(a.translatorPrevious))
	mux.HandleFunc("POST /v1/unknown/skip", a.handleSelect(a.translatorSkip))
	mux.HandleFunc("POST /v1/unknown/fetch", a.handleFetchUnknown)
	mux.HandleFunc("POST /v1/unknown/confirm", a.handleConfirmUnknown)
	mux.HandleFunc("POST /v1/catalog/seed", a.handleSeed)

	// Playback
	mux.HandleFunc("GET /v1/queue", a.handleQueue)
	mux.HandleFunc("GET /v1/playback", a.handlePlayback)
	mux.HandleFunc("POST /v1/playback/{action}", a.handlePlaybackAction)
	mux.HandleFunc("PUT /v1/playback/rate", a.handleSetRate)

	// Capture
	mux.HandleFunc("GET /v1/capture", a.handleCapture)
	mux.HandleFunc("POST /v1/capture/start", a.handleCaptureStart)
	mux.HandleFunc("POST /v1/capture/stop", a.handleCaptureStop)
	mux.HandleFunc("POST /v1/capture/retake", a.handleCaptureRetake)
	mux.HandleFunc("POST /v1/capture/save", a.handleCaptureSave)
	mux.HandleFunc("POST /v1/capture/reset", a.handleCaptureReset)

	return mux
}

// ─── Response types ──────────────────────────────────────────────────────────

type itemJSON struct {
	Word       string     `json:"word"`
	Provenance string     `json:"provenance"`
	Clip       string     `json:"clip,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

type libraryJSON struct {
	Query           string     `json:"query"`
	Items           []itemJSON `json:"items"`
	LoadingInitial  bool       `json:"loading_initial"`
	SearchingRemote bool       `json:"searching_remote"`
}

type entryJSON struct {
	Word      string    `json:"word"`
	Clip      string    `json:"clip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type correctionJSON struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

type unknownJSON struct {
	Transcript  string           `json:"transcript"`
	Text        string           `json:"text"`
	Corrections []correctionJSON `json:"corrections,omitempty"`
	Unknown     []string         `json:"unknown"`
	Index       int              `json:"index"`
	Current     string           `json:"current,omitempty"`
}

type playbackJSON struct {
	Queue   []string `json:"queue"`
	Index   int      `json:"index"`
	Playing bool     `json:"playing"`
	Rate    float64  `json:"rate"`
}

type captureJSON struct {
	Phase              string     `json:"phase"`
	Countdown          int        `json:"countdown"`
	RecordingStartedAt *time.Time `json:"recording_started_at,omitempty"`
	Result             string     `json:"result,omitempty"`
}

func toItemJSON(it library.Item) itemJSON {
	out := itemJSON{
		Word:       it.Word,
		Provenance: it.Provenance.String(),
		Clip:       it.Locator().String(),
	}
	if it.Entry != nil {
		t := it.Entry.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

func toLibraryJSON(s library.Snapshot) libraryJSON {
	items := make([]itemJSON, len(s.Items))
	for i, it := range s.Items {
		items[i] = toItemJSON(it)
	}
	return libraryJSON{
		Query:           s.Query,
		Items:           items,
		LoadingInitial:  s.LoadingInitial,
		SearchingRemote: s.SearchingRemote,
	}
}

func toEntryJSON(e catalog.Entry) entryJSON {
	return entryJSON{Word: e.Key, Clip: e.Clip.String(), CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

func toUnknownJSON(st translate.State) unknownJSON {
	out := unknownJSON{
		Transcript: st.Transcript,
		Text:       st.Text,
		Unknown:    st.Unknown,
		Index:      st.Index,
		Current:    st.Current(),
	}
	if out.Unknown == nil {
		out.Unknown = []string{}
	}
	for _, c := range st.Corrections {
		out.Corrections = append(out.Corrections, correctionJSON{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}
	return out
}

func toPlaybackJSON(st playback.State) playbackJSON {
	return playbackJSON{Queue: locatorStrings(st.Queue), Index: st.Index, Playing: st.Playing, Rate: st.Rate}
}

func toCaptureJSON(st capture.State) captureJSON {
	out := captureJSON{Phase: st.Phase.String(), Countdown: st.Countdown, Result: st.Result.String()}
	if !st.RecordingStartedAt.IsZero() {
		t := st.RecordingStartedAt
		out.RecordingStartedAt = &t
	}
	return out
}

func locatorStrings(ls []types.Locator) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return out
}

// ─── Library ─────────────────────────────────────────────────────────────────

func (a *App) handleLibrary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toLibraryJSON(a.library.Snapshot()))
}

func (a *App) handleSetQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a.library.SetQuery(r.Context(), req.Query)
	writeJSON(w, http.StatusOK, toLibraryJSON(a.library.Snapshot()))
}

// handleSaveRemote adds a remote sign to the catalog. Without a clip in the
// request the word is resolved first.
func (a *App) handleSaveRemote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Word string `json:"word"`
		Clip string `json:"clip"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	clip := types.Locator(req.Clip)
	if clip.IsZero() {
		loc, ok := a.gateway.Resolve(r.Context(), req.Word)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no remote sign for %q", req.Word))
			return
		}
		clip = loc
	}
	e, err := a.library.SaveRemote(r.Context(), library.Item{
		Word:       types.NormalizeWord(req.Word),
		Provenance: types.ProvenanceRemote,
		Clip:       clip,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryJSON(e))
}

func (a *App) handleDelete(w http.ResponseWriter, r *http.Request) {
	e, err := a.store.Get(r.Context(), r.PathValue("word"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	it := library.Item{Word: e.Key, Provenance: types.ProvenanceLocal, Entry: &e}
	if err := a.library.Delete(r.Context(), it); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := a.library.DeleteAll(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleResolve(w http.ResponseWriter, r *http.Request) {
	word := r.URL.Query().Get("word")
	if strings.TrimSpace(word) == "" {
		writeError(w, http.StatusBadRequest, errors.New("word is required"))
		return
	}
	loc, ok := a.gateway.Resolve(r.Context(), word)
	writeJSON(w, http.StatusOK, map[string]any{"word": word, "found": ok, "clip": loc.String()})
}

// ─── Transcript / unknown words ──────────────────────────────────────────────

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Final bool   `json:"final"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a.feed.Publish(types.Transcript{Text: req.Text, IsFinal: req.Final})
	writeJSON(w, http.StatusOK, toUnknownJSON(a.translator.State()))
}

func (a *App) handleResetTranscript(w http.ResponseWriter, _ *http.Request) {
	a.translator.ResetTranscript()
	writeJSON(w, http.StatusOK, toUnknownJSON(a.translator.State()))
}

func (a *App) handleUnknown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toUnknownJSON(a.translator.State()))
}

func (a *App) translatorNext()     { a.translator.SelectNext() }
func (a *App) translatorPrevious() { a.translator.SelectPrevious() }
func (a *App) translatorSkip()     { a.translator.Skip() }

func (a *App) handleSelect(op func()) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		op()
		writeJSON(w, http.StatusOK, toUnknownJSON(a.translator.State()))
	}
}

func (a *App) handleFetchUnknown(w http.ResponseWriter, r *http.Request) {
	word, ok := a.translator.Current()
	if !ok {
		writeError(w, statusFor(translate.ErrNoSelection), translate.ErrNoSelection)
		return
	}
	loc, found := a.translator.FetchCurrent(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"word": word, "found": found, "clip": loc.String()})
}

func (a *App) handleConfirmUnknown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Clip string `json:"clip"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := a.translator.ConfirmCurrent(r.Context(), types.Locator(req.Clip)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toUnknownJSON(a.translator.State()))
}

func (a *App) handleSeed(w http.ResponseWriter, r *http.Request) {
	if err := a.translator.SeedDefaults(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Playback ────────────────────────────────────────────────────────────────

func (a *App) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"queue": locatorStrings(a.translator.Queue())})
}

func (a *App) handlePlayback(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toPlaybackJSON(a.playback.State()))
}

func (a *App) handlePlaybackAction(w http.ResponseWriter, r *http.Request) {
	switch action := r.PathValue("action"); action {
	case "play-pause":
		a.playback.PlayPause()
	case "next":
		a.playback.Next()
	case "previous":
		a.playback.Previous()
	case "replay":
		a.playback.Replay()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown playback action %q", action))
		return
	}
	writeJSON(w, http.StatusOK, toPlaybackJSON(a.playback.State()))
}

func (a *App) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rate <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("rate must be positive"))
		return
	}
	a.playback.SetRate(req.Rate)
	writeJSON(w, http.StatusOK, toPlaybackJSON(a.playback.State()))
}

// ─── Capture ─────────────────────────────────────────────────────────────────

func (a *App) handleCapture(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toCaptureJSON(a.capture.State()))
}

func (a *App) handleCaptureStart(w http.ResponseWriter, _ *http.Request) {
	if err := a.capture.StartCountdown(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, toCaptureJSON(a.capture.State()))
}

// handleCaptureStop ends the recording. With the upload recorder the request
// body carries the recorded clip.
func (a *App) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if a.uploads != nil {
		if a.capture.State().Phase != capture.PhaseRecording {
			writeError(w, http.StatusConflict, fmt.Errorf("%w: stop recording in %s", capture.ErrInvalidTransition, a.capture.State().Phase))
			return
		}
		body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := a.uploads.stage(body, clipExt(r)); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if _, err := a.capture.StopRecording(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toCaptureJSON(a.capture.State()))
}

func (a *App) handleCaptureRetake(w http.ResponseWriter, _ *http.Request) {
	take := a.capture.State().Result
	if err := a.capture.Retake(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	a.dropTake(take)
	writeJSON(w, http.StatusOK, toCaptureJSON(a.capture.State()))
}

func (a *App) handleCaptureSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Word string `json:"word"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := a.capture.Save(r.Context(), req.Word, a.library)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryJSON(e))
}

func (a *App) handleCaptureReset(w http.ResponseWriter, _ *http.Request) {
	take := a.capture.State().Result
	a.capture.Reset()
	a.dropTake(take)
	writeJSON(w, http.StatusOK, toCaptureJSON(a.capture.State()))
}

// dropTake removes a discarded uploaded take.
func (a *App) dropTake(take types.Locator) {
	if a.uploads != nil && !take.IsZero() && !take.IsRemote() {
		removeStaged(take.String())
	}
}

func clipExt(r *http.Request) string {
	if ext := r.URL.Query().Get("ext"); ext != "" && !strings.ContainsAny(ext, `/\`) {
		return "." + strings.TrimPrefix(ext, ".")
	}
	switch r.Header.Get("Content-Type") {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".mp4"
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrDuplicateKey),
		errors.Is(err, translate.ErrNoSelection),
		errors.Is(err, capture.ErrInvalidTransition),
		errors.Is(err, capture.ErrSessionReset):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrEmptyKey),
		errors.Is(err, library.ErrNotLocal),
		errors.Is(err, library.ErrNotRemote):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrNoClipStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
