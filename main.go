package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"

	"buses/metrics"
	"buses/solver"
)

//go:embed schema.sql
var schema string

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, key := range []string{"PGCONN", "CLIENT_ID", "CLIENT_SECRET", "ADMINS"} {
		if os.Getenv(key) == "" {
			logger.Fatal("environment variable is required", zap.String("key", key))
		}
	}

	db, err := sql.Open("postgres", os.Getenv("PGCONN"))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	logger.Info("connected to database")

	if _, err := db.Exec(schema); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	metrics.Register()

	http.HandleFunc("POST /auth/google/callback", handleGoogleCallback(logger))
	http.HandleFunc("GET /api/admin/check", handleAdminCheck)
	http.HandleFunc("GET /api/trips", handleListTrips(db, logger))
	http.HandleFunc("POST /api/trips", handleCreateTrip(db, logger))
	http.HandleFunc("GET /api/trips/{tripID}", handleGetTrip(db, logger))
	http.HandleFunc("PATCH /api/trips/{tripID}", handleUpdateTrip(db, logger))
	http.HandleFunc("DELETE /api/trips/{tripID}", handleDeleteTrip(db, logger))
	http.HandleFunc("POST /api/trips/{tripID}/admins", handleAddTripAdmin(db, logger))
	http.HandleFunc("DELETE /api/trips/{tripID}/admins/{adminID}", handleRemoveTripAdmin(db, logger))
	http.HandleFunc("GET /api/trips/{tripID}/students", handleListStudents(db, logger))
	http.HandleFunc("POST /api/trips/{tripID}/students", handleCreateStudent(db, logger))
	http.HandleFunc("DELETE /api/trips/{tripID}/students/{studentID}", handleDeleteStudent(db, logger))
	http.HandleFunc("GET /api/trips/{tripID}/friendships", handleListFriendships(db, logger))
	http.HandleFunc("POST /api/trips/{tripID}/friendships", handleCreateFriendship(db, logger))
	http.HandleFunc("DELETE /api/trips/{tripID}/friendships/{friendshipID}", handleDeleteFriendship(db, logger))
	http.HandleFunc("GET /api/trips/{tripID}/rowdy-groups", handleListRowdyGroups(db, logger))
	http.HandleFunc("POST /api/trips/{tripID}/rowdy-groups", handleCreateRowdyGroup(db, logger))
	http.HandleFunc("DELETE /api/trips/{tripID}/rowdy-groups/{groupID}", handleDeleteRowdyGroup(db, logger))
	http.HandleFunc("POST /api/trips/{tripID}/import", handleImport(db, logger))
	http.HandleFunc("POST /api/trips/{tripID}/solve", handleSolve(db, logger))
	http.HandleFunc("GET /api/trips/{tripID}/runs", handleListRuns(db, logger))
	http.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	logger.Info("listening", zap.String("addr", addr))
	logger.Fatal("server stopped", zap.Error(http.ListenAndServe(addr, nil)))
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("DEV") == "1" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// serverError logs err and replies with a generic 500.
func serverError(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func handleGoogleCallback(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.FormValue("credential")
		if credential == "" {
			http.Error(w, "missing credential", http.StatusBadRequest)
			return
		}

		payload, err := idtoken.Validate(context.Background(), credential, os.Getenv("CLIENT_ID"))
		if err != nil {
			logger.Info("failed to validate token", zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		email, _ := payload.Claims["email"].(string)
		if email == "" {
			http.Error(w, "token has no email", http.StatusUnauthorized)
			return
		}

		writeJSON(w, map[string]any{
			"email":   email,
			"name":    payload.Claims["name"],
			"picture": payload.Claims["picture"],
			"token":   signEmail(email),
		})
	}
}

func signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(os.Getenv("CLIENT_SECRET")))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(signEmail(email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(os.Getenv("ADMINS"), ","), func(a string) bool {
		return strings.TrimSpace(a) == email
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func isTripAdmin(db *sql.DB, logger *zap.Logger, email string, tripID int64) bool {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM trip_admins WHERE trip_id = $1 AND email = $2)", tripID, email).Scan(&exists)
	if err != nil {
		logger.Warn("trip admin lookup failed", zap.Int64("trip_id", tripID), zap.Error(err))
	}
	return exists
}

// requireTripAdmin authorizes global admins and the trip's own admins.
func requireTripAdmin(db *sql.DB, logger *zap.Logger, w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", 0, false
	}
	tripID, ok := pathID(w, r, "tripID")
	if !ok {
		return "", 0, false
	}
	if !isAdmin(email) && !isTripAdmin(db, logger, email, tripID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", 0, false
	}
	return email, tripID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		http.Error(w, "invalid "+strings.TrimSuffix(name, "ID")+" ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]bool{"admin": isAdmin(email)})
}

type trip struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	NumBuses          int         `json:"num_buses"`
	BusSize           int         `json:"bus_size"`
	Objective         string      `json:"objective"`
	TimeBudgetSeconds int         `json:"time_budget_seconds"`
	Admins            []tripAdmin `json:"admins,omitempty"`
}

type tripAdmin struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func handleListTrips(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		rows, err := db.Query(`
			SELECT t.id, t.name, t.num_buses, t.bus_size, t.objective, t.time_budget_seconds, COALESCE(
				json_agg(json_build_object('id', ta.id, 'email', ta.email)) FILTER (WHERE ta.id IS NOT NULL),
				'[]'
			)
			FROM trips t
			LEFT JOIN trip_admins ta ON ta.trip_id = t.id
			GROUP BY t.id
			ORDER BY t.id`)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		defer rows.Close()

		trips := []trip{}
		for rows.Next() {
			var t trip
			var adminsJSON string
			if err := rows.Scan(&t.ID, &t.Name, &t.NumBuses, &t.BusSize, &t.Objective, &t.TimeBudgetSeconds, &adminsJSON); err != nil {
				serverError(logger, w, r, err)
				return
			}
			if err := json.Unmarshal([]byte(adminsJSON), &t.Admins); err != nil {
				serverError(logger, w, r, err)
				return
			}
			trips = append(trips, t)
		}
		if err := rows.Err(); err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, trips)
	}
}

func handleCreateTrip(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		var id int64
		if err := db.QueryRow("INSERT INTO trips (name) VALUES ($1) RETURNING id", body.Name).Scan(&id); err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, map[string]any{"id": id, "name": body.Name})
	}
}

func loadTrip(db *sql.DB, tripID int64) (trip, error) {
	t := trip{ID: tripID}
	err := db.QueryRow("SELECT name, num_buses, bus_size, objective, time_budget_seconds FROM trips WHERE id = $1", tripID).
		Scan(&t.Name, &t.NumBuses, &t.BusSize, &t.Objective, &t.TimeBudgetSeconds)
	return t, err
}

func handleGetTrip(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		t, err := loadTrip(db, tripID)
		if err == sql.ErrNoRows {
			http.Error(w, "trip not found", http.StatusNotFound)
			return
		}
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, t)
	}
}

type tripUpdate struct {
	NumBuses          *int    `json:"num_buses"`
	BusSize           *int    `json:"bus_size"`
	Objective         *string `json:"objective"`
	TimeBudgetSeconds *int    `json:"time_budget_seconds"`
}

func (u tripUpdate) validate() error {
	if u.NumBuses != nil && *u.NumBuses < 1 {
		return fmt.Errorf("num_buses must be at least 1")
	}
	if u.BusSize != nil && *u.BusSize < 1 {
		return fmt.Errorf("bus_size must be at least 1")
	}
	if u.Objective != nil {
		if _, err := solver.ParseObjective(*u.Objective); err != nil {
			return fmt.Errorf("objective must be one of violations, friendships, weighted, normalized")
		}
	}
	if u.TimeBudgetSeconds != nil && *u.TimeBudgetSeconds < 0 {
		return fmt.Errorf("time_budget_seconds must be at least 0")
	}
	return nil
}

func handleUpdateTrip(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		var body tripUpdate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := body.validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var objective *string
		if body.Objective != nil {
			o, _ := solver.ParseObjective(*body.Objective)
			name := o.String()
			objective = &name
		}
		result, err := db.Exec(`
			UPDATE trips SET
				num_buses = COALESCE($1, num_buses),
				bus_size = COALESCE($2, bus_size),
				objective = COALESCE($3, objective),
				time_budget_seconds = COALESCE($4, time_budget_seconds)
			WHERE id = $5`, body.NumBuses, body.BusSize, objective, body.TimeBudgetSeconds, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "trip not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteTrip(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		tripID, ok := pathID(w, r, "tripID")
		if !ok {
			return
		}
		result, err := db.Exec("DELETE FROM trips WHERE id = $1", tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "trip not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAddTripAdmin(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		tripID, ok := pathID(w, r, "tripID")
		if !ok {
			return
		}
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		var id int64
		err := db.QueryRow("INSERT INTO trip_admins (trip_id, email) VALUES ($1, $2) RETURNING id", tripID, body.Email).Scan(&id)
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			http.Error(w, "already a trip admin", http.StatusConflict)
			return
		}
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, tripAdmin{ID: id, Email: body.Email})
	}
}

func handleRemoveTripAdmin(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		adminID, ok := pathID(w, r, "adminID")
		if !ok {
			return
		}
		result, err := db.Exec("DELETE FROM trip_admins WHERE id = $1", adminID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "trip admin not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
