package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cityscope/cityscope/internal/models"
)

type cityView struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	UF     string  `json:"uf"`
	Region *string `json:"region"`
}

type cityDetailView struct {
	cityView
	IBGECode  int64    `json:"ibge_code"`
	Area      *float64 `json:"area"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type indicatorValueView struct {
	IndicatorCode string  `json:"indicator_code"`
	IndicatorName string  `json:"indicator_name"`
	Year          *int64  `json:"year"`
	Value         float64 `json:"value"`
	Unit          *string `json:"unit"`
}

type indicatorView struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Unit        *string `json:"unit"`
	Source      *string `json:"source"`
}

type stateView struct {
	UF     string  `json:"uf"`
	Region *string `json:"region"`
}

func toCityView(c models.City) cityView {
	return cityView{ID: c.ID, Name: c.Name, UF: c.UF, Region: nullableString(c.Region)}
}

func toCityDetailView(c models.City) cityDetailView {
	return cityDetailView{
		cityView:  toCityView(c),
		IBGECode:  c.IBGECode,
		Area:      nullableFloat(c.Area),
		Latitude:  nullableFloat(c.Latitude),
		Longitude: nullableFloat(c.Longitude),
	}
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func (s *Server) handleListCities(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	uf := strings.ToUpper(r.URL.Query().Get("uf"))

	cities, err := s.store.ListCities(uf, page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]cityView, 0, len(cities))
	for _, c := range cities {
		views = append(views, toCityView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

type cityCreateRequest struct {
	IBGECode  int64    `json:"ibge_code"`
	Name      string   `json:"name"`
	UF        string   `json:"uf"`
	Region    *string  `json:"region"`
	Area      *float64 `json:"area"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleCreateCity(w http.ResponseWriter, r *http.Request) {
	var req cityCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.UF = strings.ToUpper(strings.TrimSpace(req.UF))
	switch {
	case req.IBGECode <= 0:
		writeError(w, http.StatusBadRequest, "ibge_code must be a positive integer")
		return
	case strings.TrimSpace(req.Name) == "":
		writeError(w, http.StatusBadRequest, "name is required")
		return
	case len(req.UF) != 2:
		writeError(w, http.StatusBadRequest, "uf must be exactly 2 characters")
		return
	}

	existing, err := s.store.GetCityByIBGECode(req.IBGECode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusBadRequest, "City already exists with this IBGE code")
		return
	}

	city := &models.City{
		IBGECode: req.IBGECode,
		Name:     strings.TrimSpace(req.Name),
		UF:       req.UF,
	}
	if req.Region != nil {
		city.Region = sql.NullString{String: *req.Region, Valid: true}
	}
	if req.Area != nil && *req.Area > 0 {
		city.Area = sql.NullFloat64{Float64: *req.Area, Valid: true}
	}
	if req.Latitude != nil {
		city.Latitude = sql.NullFloat64{Float64: *req.Latitude, Valid: true}
	}
	if req.Longitude != nil {
		city.Longitude = sql.NullFloat64{Float64: *req.Longitude, Valid: true}
	}

	if err := s.store.CreateCity(city); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toCityDetailView(*city))
}

func (s *Server) handleCityIndicators(w http.ResponseWriter, r *http.Request) {
	cityID, err := strconv.ParseInt(chi.URLParam(r, "cityID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid city id")
		return
	}

	city, err := s.store.GetCity(cityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if city == nil {
		writeError(w, http.StatusNotFound, "City not found")
		return
	}

	values, err := s.store.ListCityIndicatorValues(cityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]indicatorValueView, 0, len(values))
	for _, v := range values {
		views = append(views, indicatorValueView{
			IndicatorCode: v.IndicatorCode,
			IndicatorName: v.IndicatorName,
			Year:          nullableInt(v.Year),
			Value:         v.Value,
			Unit:          nullableString(v.Unit),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := s.store.ListIndicators()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]indicatorView, 0, len(indicators))
	for _, ind := range indicators {
		views = append(views, indicatorView{
			Code:        ind.Code,
			Name:        ind.Name,
			Description: nullableString(ind.Description),
			Unit:        nullableString(ind.Unit),
			Source:      nullableString(ind.Source),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleDebugToken echoes the authenticated principal, for token debugging.
func (s *Server) handleDebugToken(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OK", "user": user.Email})
}

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListStates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]stateView, 0, len(states))
	for _, st := range states {
		views = append(views, stateView{UF: st.UF, Region: nullableString(st.Region)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCitiesByState(w http.ResponseWriter, r *http.Request) {
	uf := strings.ToUpper(chi.URLParam(r, "uf"))
	if len(uf) != 2 {
		writeError(w, http.StatusBadRequest, "UF must be exactly 2 characters")
		return
	}

	cities, err := s.store.ListCitiesByUF(uf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(cities) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No cities found for state %s", uf))
		return
	}

	views := make([]cityView, 0, len(cities))
	for _, c := range cities {
		views = append(views, toCityView(c))
	}
	writeJSON(w, http.StatusOK, views)
}
