package api_test

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/cityscope/cityscope/internal/api"
	"github.com/cityscope/cityscope/internal/auth"
	"github.com/cityscope/cityscope/internal/models"
	"github.com/cityscope/cityscope/internal/store"
)

func setupServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, zerolog.Nop())
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tokens, err := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return api.NewServer(s, tokens, ":0", false, zerolog.Nop()), s
}

func doJSON(t *testing.T, srv *api.Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

// signup registers a user and returns a usable access token.
func signup(t *testing.T, srv *api.Server, email string) string {
	t.Helper()
	w := doJSON(t, srv, "POST", "/auth/signup", `{"email": "`+email+`", "password": "long-enough-password"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signup status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("signup returned empty access token")
	}
	return resp.AccessToken
}

func seedCity(t *testing.T, s *store.Store, ibgeCode int64, name, uf, region string) *models.City {
	t.Helper()
	city := &models.City{
		IBGECode: ibgeCode,
		Name:     name,
		UF:       uf,
		Region:   sql.NullString{String: region, Valid: region != ""},
	}
	if err := s.CreateCity(city); err != nil {
		t.Fatalf("seed city: %v", err)
	}
	return city
}

func TestHealthzOpen(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "GET", "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCitiesRequireAuth(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	for _, path := range []string{"/cities", "/states", "/states/SP/cities", "/cities/1/indicators"} {
		w := doJSON(t, srv, "GET", path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, w.Code)
		}
	}

	w := doJSON(t, srv, "GET", "/cities", "", "not-a-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", w.Code)
	}
}

func TestSignupAndLogin(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	signup(t, srv, "ana@example.com")

	// Duplicate signup rejected.
	w := doJSON(t, srv, "POST", "/auth/signup", `{"email": "ana@example.com", "password": "long-enough-password"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate signup status = %d, want 400", w.Code)
	}

	w = doJSON(t, srv, "POST", "/auth/login", `{"email": "ana@example.com", "password": "long-enough-password"}`, "")
	if w.Code != http.StatusOK {
		t.Errorf("login status = %d, want 200: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "POST", "/auth/login", `{"email": "ana@example.com", "password": "wrong"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", w.Code)
	}

	w = doJSON(t, srv, "POST", "/auth/signup", `{"email": "short@example.com", "password": "tiny"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("short password status = %d, want 400", w.Code)
	}
}

func TestRefreshFlow(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "POST", "/auth/signup", `{"email": "ana@example.com", "password": "long-enough-password"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signup status = %d", w.Code)
	}

	var refreshCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "cityscope_refresh" {
			refreshCookie = c
		}
	}
	if refreshCookie == nil {
		t.Fatal("signup did not set refresh cookie")
	}
	if !refreshCookie.HttpOnly {
		t.Error("refresh cookie not HttpOnly")
	}

	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(refreshCookie)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "access_token") {
		t.Errorf("refresh body = %s", rec.Body.String())
	}

	// No cookie.
	w = doJSON(t, srv, "POST", "/auth/refresh", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("refresh without cookie status = %d, want 401", w.Code)
	}
}

func TestListCities(t *testing.T) {
	t.Parallel()
	srv, s := setupServer(t)
	token := signup(t, srv, "ana@example.com")
	seedCity(t, s, 3550308, "São Paulo", "SP", "Sudeste")
	seedCity(t, s, 3304557, "Rio de Janeiro", "RJ", "Sudeste")

	w := doJSON(t, srv, "GET", "/cities", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var cities []struct {
		ID     int64   `json:"id"`
		Name   string  `json:"name"`
		UF     string  `json:"uf"`
		Region *string `json:"region"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cities); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cities) != 2 {
		t.Fatalf("len = %d, want 2", len(cities))
	}
	if cities[0].UF != "RJ" {
		t.Errorf("first city uf = %s, want RJ (uf order)", cities[0].UF)
	}

	// State filter is case-insensitive.
	w = doJSON(t, srv, "GET", "/cities?uf=sp", "", token)
	if err := json.Unmarshal(w.Body.Bytes(), &cities); err != nil {
		t.Fatalf("decode filtered: %v", err)
	}
	if len(cities) != 1 || cities[0].Name != "São Paulo" {
		t.Errorf("filtered = %+v, want São Paulo only", cities)
	}
}

func TestCreateCity(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	token := signup(t, srv, "ana@example.com")

	body := `{"ibge_code": 3550308, "name": "São Paulo", "uf": "sp", "region": "Sudeste", "area": 1521.11}`
	w := doJSON(t, srv, "POST", "/cities", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID       int64    `json:"id"`
		UF       string   `json:"uf"`
		IBGECode int64    `json:"ibge_code"`
		Area     *float64 `json:"area"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.UF != "SP" || created.IBGECode != 3550308 {
		t.Errorf("created = %+v", created)
	}
	if created.Area == nil || *created.Area != 1521.11 {
		t.Errorf("area = %v, want 1521.11", created.Area)
	}

	// Duplicate IBGE code rejected.
	w = doJSON(t, srv, "POST", "/cities", body, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate status = %d, want 400", w.Code)
	}

	for name, body := range map[string]string{
		"missing name": `{"ibge_code": 1, "uf": "SP"}`,
		"bad uf":       `{"ibge_code": 1, "name": "X", "uf": "SPX"}`,
		"no code":      `{"name": "X", "uf": "SP"}`,
	} {
		w = doJSON(t, srv, "POST", "/cities", body, token)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, w.Code)
		}
	}
}

func TestCityIndicators(t *testing.T) {
	t.Parallel()
	srv, s := setupServer(t)
	token := signup(t, srv, "ana@example.com")
	city := seedCity(t, s, 3550308, "São Paulo", "SP", "Sudeste")

	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	pop, err := tx.EnsureIndicator("POP", "Population", "people", "IBGE")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	area, err := tx.EnsureIndicator("AREA", "Territorial Area", "km²", "IBGE")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := tx.InsertIndicatorValue(&models.IndicatorValue{IndicatorID: pop.ID, CityID: city.ID, Year: sql.NullInt64{Int64: 2021, Valid: true}, Value: 12396372}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.InsertIndicatorValue(&models.IndicatorValue{IndicatorID: area.ID, CityID: city.ID, Value: 1521.11}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w := doJSON(t, srv, "GET", "/cities/"+itoa(city.ID)+"/indicators", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var values []struct {
		IndicatorCode string  `json:"indicator_code"`
		IndicatorName string  `json:"indicator_name"`
		Year          *int64  `json:"year"`
		Value         float64 `json:"value"`
		Unit          *string `json:"unit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &values); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("len = %d, want 2", len(values))
	}
	if values[0].IndicatorCode != "AREA" || values[0].Year != nil || values[0].Value != 1521.11 {
		t.Errorf("first value = %+v, want static AREA", values[0])
	}
	if values[1].IndicatorCode != "POP" || values[1].Year == nil || *values[1].Year != 2021 {
		t.Errorf("second value = %+v, want POP 2021", values[1])
	}
	if values[1].Unit == nil || *values[1].Unit != "people" {
		t.Errorf("unit = %v, want people", values[1].Unit)
	}

	w = doJSON(t, srv, "GET", "/cities/999999/indicators", "", token)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown city status = %d, want 404", w.Code)
	}
}

func TestStates(t *testing.T) {
	t.Parallel()
	srv, s := setupServer(t)
	token := signup(t, srv, "ana@example.com")
	seedCity(t, s, 3550308, "São Paulo", "SP", "Sudeste")
	seedCity(t, s, 3509502, "Campinas", "SP", "Sudeste")
	seedCity(t, s, 3304557, "Rio de Janeiro", "RJ", "Sudeste")

	w := doJSON(t, srv, "GET", "/states", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var states []struct {
		UF     string  `json:"uf"`
		Region *string `json:"region"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len = %d, want 2", len(states))
	}

	w = doJSON(t, srv, "GET", "/states/SP/cities", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var cities []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cities); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cities) != 2 || cities[0].Name != "Campinas" {
		t.Errorf("SP cities = %+v, want Campinas first", cities)
	}

	w = doJSON(t, srv, "GET", "/states/XXX/cities", "", token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("long uf status = %d, want 400", w.Code)
	}

	w = doJSON(t, srv, "GET", "/states/AC/cities", "", token)
	if w.Code != http.StatusNotFound {
		t.Errorf("empty state status = %d, want 404", w.Code)
	}
}

func TestListIndicators(t *testing.T) {
	t.Parallel()
	srv, s := setupServer(t)
	token := signup(t, srv, "ana@example.com")

	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.EnsureIndicator("POP", "Population", "people", "IBGE"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := tx.EnsureIndicator("AREA", "Territorial Area", "km²", "IBGE"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w := doJSON(t, srv, "GET", "/indicators", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var indicators []struct {
		Code string  `json:"code"`
		Name string  `json:"name"`
		Unit *string `json:"unit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &indicators); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(indicators) != 2 {
		t.Fatalf("len = %d, want 2", len(indicators))
	}
	if indicators[0].Code != "AREA" || indicators[1].Code != "POP" {
		t.Errorf("indicators = %+v, want AREA then POP (code order)", indicators)
	}
}

func TestDebugToken(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	token := signup(t, srv, "ana@example.com")

	w := doJSON(t, srv, "GET", "/cities/debug/token", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ana@example.com") {
		t.Errorf("body = %s, want user email", w.Body.String())
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
