package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"buses/instance"
	"buses/solver"
)

type student struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type friendship struct {
	ID         int64 `json:"id"`
	StudentAID int64 `json:"student_a_id"`
	StudentBID int64 `json:"student_b_id"`
}

type rowdyGroup struct {
	ID         int64   `json:"id"`
	StudentIDs []int64 `json:"student_ids"`
}

func loadStudents(db *sql.DB, tripID int64) ([]student, error) {
	rows, err := db.Query("SELECT id, name FROM students WHERE trip_id = $1 ORDER BY id", tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := []student{}
	for rows.Next() {
		var st student
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func loadFriendships(db *sql.DB, tripID int64) ([]friendship, error) {
	rows, err := db.Query(`
		SELECT f.id, f.student_a_id, f.student_b_id
		FROM friendships f
		JOIN students s ON s.id = f.student_a_id
		WHERE s.trip_id = $1
		ORDER BY f.id`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	friendships := []friendship{}
	for rows.Next() {
		var f friendship
		if err := rows.Scan(&f.ID, &f.StudentAID, &f.StudentBID); err != nil {
			return nil, err
		}
		friendships = append(friendships, f)
	}
	return friendships, rows.Err()
}

func loadRowdyGroups(db *sql.DB, tripID int64) ([]rowdyGroup, error) {
	rows, err := db.Query("SELECT id, member_ids FROM rowdy_groups WHERE trip_id = $1 ORDER BY id", tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []rowdyGroup{}
	for rows.Next() {
		var g rowdyGroup
		if err := rows.Scan(&g.ID, pq.Array(&g.StudentIDs)); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func handleListStudents(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		students, err := loadStudents(db, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, students)
	}
}

func handleCreateStudent(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
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
		if err := db.QueryRow("INSERT INTO students (trip_id, name) VALUES ($1, $2) RETURNING id", tripID, body.Name).Scan(&id); err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, student{ID: id, Name: body.Name})
	}
}

func handleDeleteStudent(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		studentID, ok := pathID(w, r, "studentID")
		if !ok {
			return
		}

		tx, err := db.Begin()
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		defer tx.Rollback()

		result, err := tx.Exec("DELETE FROM students WHERE id = $1 AND trip_id = $2", studentID, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "student not found", http.StatusNotFound)
			return
		}
		if _, err := tx.Exec("UPDATE rowdy_groups SET member_ids = array_remove(member_ids, $1) WHERE trip_id = $2", studentID, tripID); err != nil {
			serverError(logger, w, r, err)
			return
		}
		if _, err := tx.Exec("DELETE FROM rowdy_groups WHERE trip_id = $1 AND cardinality(member_ids) = 0", tripID); err != nil {
			serverError(logger, w, r, err)
			return
		}
		if err := tx.Commit(); err != nil {
			serverError(logger, w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListFriendships(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		friendships, err := loadFriendships(db, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, friendships)
	}
}

func handleCreateFriendship(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		var body struct {
			StudentAID int64 `json:"student_a_id"`
			StudentBID int64 `json:"student_b_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		a, b, err := orderPair(body.StudentAID, body.StudentBID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var id int64
		err = db.QueryRow(`
			INSERT INTO friendships (student_a_id, student_b_id)
			SELECT $1, $2
			WHERE (SELECT COUNT(*) FROM students WHERE id IN ($1, $2) AND trip_id = $3) = 2
			RETURNING id`, a, b, tripID).Scan(&id)
		if err == sql.ErrNoRows {
			http.Error(w, "students not found in this trip", http.StatusBadRequest)
			return
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			http.Error(w, "friendship already exists", http.StatusConflict)
			return
		}
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, friendship{ID: id, StudentAID: a, StudentBID: b})
	}
}

// orderPair returns the two ids smallest first, matching the friendships
// table check.
func orderPair(a, b int64) (int64, int64, error) {
	if a == b {
		return 0, 0, fmt.Errorf("a student cannot befriend themselves")
	}
	if a == 0 || b == 0 {
		return 0, 0, fmt.Errorf("student_a_id and student_b_id are required")
	}
	return min(a, b), max(a, b), nil
}

func handleDeleteFriendship(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		friendshipID, ok := pathID(w, r, "friendshipID")
		if !ok {
			return
		}
		result, err := db.Exec(`
			DELETE FROM friendships f
			USING students s
			WHERE f.id = $1 AND s.id = f.student_a_id AND s.trip_id = $2`, friendshipID, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "friendship not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListRowdyGroups(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		groups, err := loadRowdyGroups(db, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, groups)
	}
}

// normalizeGroup sorts and deduplicates member ids.
func normalizeGroup(ids []int64) ([]int64, error) {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("student_ids must not be empty")
	}
	return out, nil
}

func handleCreateRowdyGroup(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		var body struct {
			StudentIDs []int64 `json:"student_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		ids, err := normalizeGroup(body.StudentIDs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var id int64
		err = db.QueryRow(`
			INSERT INTO rowdy_groups (trip_id, member_ids)
			SELECT $1, $2
			WHERE (SELECT COUNT(*) FROM students WHERE trip_id = $1 AND id = ANY($2)) = $3
			RETURNING id`, tripID, pq.Array(ids), len(ids)).Scan(&id)
		if err == sql.ErrNoRows {
			http.Error(w, "students not found in this trip", http.StatusBadRequest)
			return
		}
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		writeJSON(w, rowdyGroup{ID: id, StudentIDs: ids})
	}
}

func handleDeleteRowdyGroup(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		groupID, ok := pathID(w, r, "groupID")
		if !ok {
			return
		}
		result, err := db.Exec("DELETE FROM rowdy_groups WHERE id = $1 AND trip_id = $2", groupID, tripID)
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "rowdy group not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

const maxImportSize = 32 << 20

// readImport parses an uploaded graph and parameters pair and checks that
// they describe a solvable instance.
func readImport(graph, params io.Reader) (*instance.Graph, instance.Parameters, error) {
	g, err := instance.ReadGraph(graph)
	if err != nil {
		return nil, instance.Parameters{}, err
	}
	p, err := instance.ReadParameters(params)
	if err != nil {
		return nil, instance.Parameters{}, err
	}
	if _, err := solver.NewProblem(g.Nodes, g.Edges, p.RowdyGroups, p.NumBuses, p.BusSize); err != nil {
		return nil, instance.Parameters{}, err
	}
	return g, p, nil
}

// handleImport replaces a trip's roster with an uploaded graph.gml and
// parameters.txt pair.
func handleImport(db *sql.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tripID, ok := requireTripAdmin(db, logger, w, r)
		if !ok {
			return
		}
		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		graphFile, _, err := r.FormFile("graph")
		if err != nil {
			http.Error(w, "graph file is required", http.StatusBadRequest)
			return
		}
		defer graphFile.Close()
		paramsFile, _, err := r.FormFile("parameters")
		if err != nil {
			http.Error(w, "parameters file is required", http.StatusBadRequest)
			return
		}
		defer paramsFile.Close()

		g, p, err := readImport(graphFile, paramsFile)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tx, err := db.Begin()
		if err != nil {
			serverError(logger, w, r, err)
			return
		}
		defer tx.Rollback()

		if _, err := tx.Exec("DELETE FROM students WHERE trip_id = $1", tripID); err != nil {
			serverError(logger, w, r, err)
			return
		}
		if _, err := tx.Exec("DELETE FROM rowdy_groups WHERE trip_id = $1", tripID); err != nil {
			serverError(logger, w, r, err)
			return
		}

		ids := make(map[string]int64, len(g.Nodes))
		for _, name := range g.Nodes {
			if _, ok := ids[name]; ok {
				continue
			}
			var id int64
			if err := tx.QueryRow("INSERT INTO students (trip_id, name) VALUES ($1, $2) RETURNING id", tripID, name).Scan(&id); err != nil {
				serverError(logger, w, r, err)
				return
			}
			ids[name] = id
		}
		for _, e := range g.Edges {
			a, b, err := orderPair(ids[e[0]], ids[e[1]])
			if err != nil {
				continue
			}
			if _, err := tx.Exec("INSERT INTO friendships (student_a_id, student_b_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", a, b); err != nil {
				serverError(logger, w, r, err)
				return
			}
		}
		for _, group := range p.RowdyGroups {
			members := make([]int64, 0, len(group))
			for _, name := range group {
				members = append(members, ids[name])
			}
			members, err := normalizeGroup(members)
			if err != nil {
				continue
			}
			if _, err := tx.Exec("INSERT INTO rowdy_groups (trip_id, member_ids) VALUES ($1, $2)", tripID, pq.Array(members)); err != nil {
				serverError(logger, w, r, err)
				return
			}
		}
		if _, err := tx.Exec("UPDATE trips SET num_buses = $1, bus_size = $2 WHERE id = $3", p.NumBuses, p.BusSize, tripID); err != nil {
			serverError(logger, w, r, err)
			return
		}
		if err := tx.Commit(); err != nil {
			serverError(logger, w, r, err)
			return
		}

		logger.Info("imported roster",
			zap.Int64("trip_id", tripID),
			zap.Int("students", len(ids)),
			zap.Int("friendships", len(g.Edges)),
			zap.Int("rowdy_groups", len(p.RowdyGroups)))
		writeJSON(w, map[string]int{
			"students":     len(ids),
			"friendships":  len(g.Edges),
			"rowdy_groups": len(p.RowdyGroups),
			"num_buses":    p.NumBuses,
			"bus_size":     p.BusSize,
		})
	}
}
