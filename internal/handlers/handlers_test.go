package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Brownie44l1/digit-bridge/internal/config"
	"github.com/Brownie44l1/digit-bridge/internal/imaging"
	"github.com/Brownie44l1/digit-bridge/internal/model"
)

type fakeEngine struct {
	scores []float32
	err    error
	calls  int
	last   []float32
}

func (f *fakeEngine) Run(input []float32) ([]float32, error) {
	f.calls++
	f.last = input
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func newTestServer(engine *fakeEngine) http.Handler {
	h := NewHandler(model.NewBridge(engine, nil), imaging.Options{Normalization: imaging.NormalizeUnit}, nil)
	return NewServer(config.Default().Server, h, zap.NewNop()).Handler()
}

func predictBody(t *testing.T, n int) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(model.PredictionRequest{Input: make([]float64, n)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func scores(k int) []float32 {
	s := make([]float32, model.NumClasses)
	s[k] = 3
	return s
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != `{"channel":"onnx_digit_classifier","status":"healthy"}` {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
}

func TestPredict(t *testing.T) {
	engine := &fakeEngine{scores: scores(6)}
	srv := newTestServer(engine)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, model.PixelCount)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp model.PredictionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Digit != 6 {
		t.Fatalf("expected 6, got %d", resp.Digit)
	}
}

func TestPredictWithScores(t *testing.T) {
	engine := &fakeEngine{scores: []float32{0, 4, 1, 4, 0, 0, 0, 0, 0, 0}}
	srv := newTestServer(engine)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict?scores=1", predictBody(t, model.PixelCount)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp model.ScoresResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Digit != 1 || len(resp.Scores) != model.NumClasses || resp.Scores[3] != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict?scores=1", predictBody(t, 5)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPredictWrongShape(t *testing.T) {
	engine := &fakeEngine{scores: scores(1)}
	srv := newTestServer(engine)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, 100)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Code != "INVALID_INPUT" {
		t.Fatalf("unexpected code %s", resp.Code)
	}
	if engine.calls != 0 {
		t.Fatalf("engine invoked %d times", engine.calls)
	}
}

func TestPredictInvalidJSON(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPredictEngineFailure(t *testing.T) {
	srv := newTestServer(&fakeEngine{err: errors.New("boom")})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, model.PixelCount)))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var resp model.ErrorResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Code != "INFERENCE_ERROR" {
		t.Fatalf("unexpected code %s", resp.Code)
	}
}

func TestPredictMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestPredictFromImage(t *testing.T) {
	engine := &fakeEngine{scores: scores(9)}
	srv := newTestServer(engine)

	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "digit.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if err := png.Encode(part, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp model.PredictionResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Digit != 9 {
		t.Fatalf("expected 9, got %d", resp.Digit)
	}
	if len(engine.last) != model.PixelCount || engine.last[0] < 0.99 {
		t.Fatalf("engine did not get unit-scaled pixels: %v", engine.last[:1])
	}
}

func TestPredictFromImageMissingFile(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("note", "no image here")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestChannelEndpoint(t *testing.T) {
	engine := &fakeEngine{scores: scores(2)}
	srv := newTestServer(engine)

	input, _ := json.Marshal(make([]float64, model.PixelCount))
	call, _ := json.Marshal(map[string]any{"method": "predict", "arguments": map[string]json.RawMessage{"input": input}})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/channel", bytes.NewReader(call)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var reply struct {
		Result int `json:"result"`
	}
	json.Unmarshal(rr.Body.Bytes(), &reply)
	if reply.Result != 2 {
		t.Fatalf("expected 2, got %d", reply.Result)
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/channel", strings.NewReader(`{"method":"calibrate"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/channel", strings.NewReader(`{"method":"predict","arguments":{"input":[1,2,3]}}`)))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "INVALID_INPUT") {
		t.Fatalf("expected 400 INVALID_INPUT, got %d: %s", rr.Code, rr.Body.String())
	}
	if engine.calls != 1 {
		t.Fatalf("expected one engine call, got %d", engine.calls)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://example.com")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(Recovery(zap.NewNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRecoveryAfterResponseStarted(t *testing.T) {
	h := Chain(Recovery(zap.NewNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("partial"))
		panic("kaboom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 to survive, got %d", rr.Code)
	}
	if rr.Body.String() != "partial" {
		t.Fatalf("error body appended to started response: %q", rr.Body.String())
	}
}
