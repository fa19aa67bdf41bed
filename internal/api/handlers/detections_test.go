package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weedtrack/internal/types"
)

func newDetectionRouter(svc *mockDetectionService) http.Handler {
	h := NewDetectionHandler(svc, testValidator(), testLogger(), 1024)
	return routerWith(h.RegisterRoutes)
}

func TestDetectionIngest_ArrayBody(t *testing.T) {
	var got []types.DetectionInput
	svc := &mockDetectionService{ingestFn: func(_ context.Context, in []types.DetectionInput) (int, error) {
		got = in
		return len(in), nil
	}}
	body := `[
		{"id": 1, "latitude": 10, "longitude": 20, "timestamp": "2024-01-01T09:00:00Z", "confidence": 0.9},
		{"id": "b", "latitude": 10.5, "longitude": 20.5, "timestamp": "2024-01-02T09:00:00Z", "confidence": 0.7}
	]`
	rec := doJSON(t, newDetectionRouter(svc), http.MethodPost, "/v1/detections", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"data":{"stored":2}}`, rec.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, types.DetectionID("1"), got[0].ID)
	assert.Equal(t, types.DetectionID("b"), got[1].ID)
}

func TestDetectionIngest_WrappedBody(t *testing.T) {
	svc := &mockDetectionService{}
	body := `{"detections":[{"id":"a","latitude":1,"longitude":2,"timestamp":"2024-01-01T00:00:00Z","confidence":0.5}]}`
	rec := doJSON(t, newDetectionRouter(svc), http.MethodPost, "/v1/detections", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDetectionIngest_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		svcErr error
		status int
		code   types.ErrorCode
	}{
		{"malformed json", `[{"id":`, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidJSON},
		{"unknown field", `[{"id":"a","colour":"green"}]`, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidJSON},
		{"service validation", `[{"id":"a"}]`, types.NewAppError(types.ErrCodeValidationMissingField, "latitude is required", nil), http.StatusBadRequest, types.ErrCodeValidationMissingField},
		{"duplicate in store", `[{"id":"a"}]`, types.NewAppError(types.ErrCodeConflictDetectionExists, "exists", nil), http.StatusConflict, types.ErrCodeConflictDetectionExists},
		{"store failure", `[{"id":"a"}]`, types.NewAppError(types.ErrCodeInternalDB, "db down", nil), http.StatusInternalServerError, types.ErrCodeInternalDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockDetectionService{ingestFn: func(context.Context, []types.DetectionInput) (int, error) {
				return 0, tt.svcErr
			}}
			rec := doJSON(t, newDetectionRouter(svc), http.MethodPost, "/v1/detections", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.code), env.Error.Code)
		})
	}
}

func TestDetectionList_FilterAndSort(t *testing.T) {
	svc := &mockDetectionService{queryFn: func(context.Context, types.DetectionFilter) ([]*types.Detection, error) {
		return []*types.Detection{{ID: "a"}, {ID: "b"}}, nil
	}}
	rec := doJSON(t, newDetectionRouter(svc), http.MethodGet,
		"/v1/detections?status=pending&sort=date&from=2024-01-01T00:00:00Z&to=2024-02-01T00:00:00Z", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.MitigationPending, svc.lastQuery.Status)
	assert.True(t, svc.lastQuery.SortByDate)
	require.NotNil(t, svc.lastQuery.From)
	require.NotNil(t, svc.lastQuery.To)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *svc.lastQuery.To)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 2, env.Meta.Count)
}

func TestDetectionList_EmptyIsArray(t *testing.T) {
	rec := doJSON(t, newDetectionRouter(&mockDetectionService{}), http.MethodGet, "/v1/detections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, rec.Body.String())
}

func TestDetectionList_FieldProjection(t *testing.T) {
	svc := &mockDetectionService{queryFn: func(context.Context, types.DetectionFilter) ([]*types.Detection, error) {
		return []*types.Detection{{ID: "a", Latitude: 1, Longitude: 2, Confidence: 0.9}}, nil
	}}
	rec := doJSON(t, newDetectionRouter(svc), http.MethodGet, "/v1/detections?fields=id,%20latitude", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"id": "a", "latitude": float64(1)}, rows[0])
}

func TestDetectionList_BadParams(t *testing.T) {
	for _, path := range []string{
		"/v1/detections?sort=confidence",
		"/v1/detections?from=yesterday",
		"/v1/detections?fields=id,secret",
	} {
		rec := doJSON(t, newDetectionRouter(&mockDetectionService{}), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestDetectionRegion(t *testing.T) {
	var got types.Bounds
	svc := &mockDetectionService{regionFn: func(_ context.Context, b types.Bounds) ([]*types.Detection, error) {
		got = b
		return []*types.Detection{{ID: "A"}}, nil
	}}
	rec := doJSON(t, newDetectionRouter(svc), http.MethodGet,
		"/v1/detections/region?sw_lat=10&sw_lng=20&ne_lat=11&ne_lng=21", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.Bounds{
		SouthWest: types.Point{Lat: 10, Lng: 20},
		NorthEast: types.Point{Lat: 11, Lng: 21},
	}, got)
}

func TestDetectionRegion_Validation(t *testing.T) {
	tests := []struct {
		query string
		code  types.ErrorCode
	}{
		{"sw_lat=10&sw_lng=20&ne_lat=11", types.ErrCodeValidationMissingField},
		{"sw_lat=100&sw_lng=20&ne_lat=11&ne_lng=21", types.ErrCodeValidationInvalidLat},
		{"sw_lat=10&sw_lng=-200&ne_lat=11&ne_lng=21", types.ErrCodeValidationInvalidLon},
		{"sw_lat=ten&sw_lng=20&ne_lat=11&ne_lng=21", types.ErrCodeValidationInvalidField},
	}
	for _, tt := range tests {
		rec := doJSON(t, newDetectionRouter(&mockDetectionService{}), http.MethodGet, "/v1/detections/region?"+tt.query, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.query)
		assert.Equal(t, string(tt.code), decodeEnvelope(t, rec).Error.Code, tt.query)
	}
}

func TestDetectionGet(t *testing.T) {
	svc := &mockDetectionService{getFn: func(_ context.Context, id string) (*types.Detection, error) {
		if id == "missing" {
			return nil, types.NewAppError(types.ErrCodeNotFoundDetection, "not found", nil)
		}
		return &types.Detection{ID: id}, nil
	}}
	router := newDetectionRouter(svc)

	rec := doJSON(t, router, http.MethodGet, "/v1/detections/abc", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/detections/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "field.jpg")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/detections/infer", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDetectionInfer(t *testing.T) {
	var gotLat, gotLng float64
	var gotImage string
	svc := &mockDetectionService{inferFn: func(_ context.Context, img io.Reader, filename string, lat, lng float64) ([]*types.Detection, error) {
		b, _ := io.ReadAll(img)
		gotImage, gotLat, gotLng = string(b), lat, lng
		return []*types.Detection{{ID: "det_1", Source: types.SourceInference}}, nil
	}}
	rec := httptest.NewRecorder()
	newDetectionRouter(svc).ServeHTTP(rec, multipartRequest(t,
		map[string]string{"latitude": "10.5", "longitude": "20.25"}, []byte("jpeg")))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "jpeg", gotImage)
	assert.Equal(t, 10.5, gotLat)
	assert.Equal(t, 20.25, gotLng)
	assert.Equal(t, 1, decodeEnvelope(t, rec).Meta.Count)
}

func TestDetectionInfer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		image  []byte
		code   types.ErrorCode
	}{
		{"missing image", map[string]string{"latitude": "1", "longitude": "2"}, nil, types.ErrCodeValidationMissingField},
		{"missing latitude", map[string]string{"longitude": "2"}, []byte("x"), types.ErrCodeValidationMissingField},
		{"bad longitude", map[string]string{"latitude": "1", "longitude": "181"}, []byte("x"), types.ErrCodeValidationInvalidLon},
		{"too large", map[string]string{"latitude": "1", "longitude": "2"}, bytes.Repeat([]byte("x"), 4<<20), types.ErrCodeValidationInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newDetectionRouter(&mockDetectionService{}).ServeHTTP(rec, multipartRequest(t, tt.fields, tt.image))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.code), decodeEnvelope(t, rec).Error.Code)
		})
	}
}

func TestDetectionInfer_UpstreamFailure(t *testing.T) {
	svc := &mockDetectionService{inferFn: func(context.Context, io.Reader, string, float64, float64) ([]*types.Detection, error) {
		return nil, types.NewAppError(types.ErrCodeUpstreamInference, "inference service unavailable", nil)
	}}
	rec := httptest.NewRecorder()
	newDetectionRouter(svc).ServeHTTP(rec, multipartRequest(t,
		map[string]string{"latitude": "1", "longitude": "2"}, []byte("jpeg")))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
