package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/etushar89/rdbms-core/pkg/btree"
	"github.com/etushar89/rdbms-core/pkg/record"
)

// scanBatchSize caps how many records one cursor fetch returns.
const scanBatchSize = 100

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.stats.RecordError()
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// errStatus maps kernel errors onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, record.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, record.ErrNoMoreTuples),
		errors.Is(err, btree.ErrKeyNotFound),
		errors.Is(err, record.ErrInvalidTableName):
		return http.StatusNotFound
	case errors.Is(err, record.ErrInvalidSchema),
		errors.Is(err, record.ErrInvalidAttr),
		errors.Is(err, btree.ErrInvalidOrder):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	respondJSON(w, http.StatusOK, s.statsSnapshot())
}

// statsSnapshot aggregates server, table and index statistics.
func (s *Server) statsSnapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := make(map[string]interface{}, len(s.open))
	for name, tbl := range s.open {
		tables[name] = map[string]interface{}{
			"table": tbl.Stats(),
			"pool":  tbl.Pool().Stats(),
		}
	}
	indexes := make(map[string]interface{}, len(s.trees))
	for name, tree := range s.trees {
		indexes[name] = map[string]interface{}{
			"tree": tree.Stats(),
			"pool": tree.Pool().Stats(),
		}
	}
	return map[string]interface{}{
		"metrics": s.stats.Snapshot(),
		"tables":  tables,
		"indexes": indexes,
		"cursors": len(s.cursors),
	}
}

// ---- table handlers ----

type schemaJSON struct {
	Attrs []struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Length int32  `json:"length,omitempty"`
	} `json:"attrs"`
	Key string `json:"key,omitempty"`
}

func (sj *schemaJSON) toSchema() (*record.Schema, error) {
	names := make([]string, len(sj.Attrs))
	types := make([]record.DataType, len(sj.Attrs))
	lengths := make([]int32, len(sj.Attrs))
	var keys []int32
	for i, a := range sj.Attrs {
		names[i] = a.Name
		lengths[i] = a.Length
		switch a.Type {
		case "INT":
			types[i] = record.TypeInt
		case "STRING":
			types[i] = record.TypeString
		case "FLOAT":
			types[i] = record.TypeFloat
		case "BOOL":
			types[i] = record.TypeBool
		default:
			return nil, fmt.Errorf("%w: type %q", record.ErrInvalidSchema, a.Type)
		}
		if a.Name == sj.Key {
			keys = []int32{int32(i)}
		}
	}
	if sj.Key != "" && keys == nil {
		return nil, fmt.Errorf("%w: key %q is not an attribute", record.ErrInvalidSchema, sj.Key)
	}
	return record.NewSchema(names, types, lengths, keys)
}

// getTable returns the open table, opening it on first use.
func (s *Server) getTable(name string) (*record.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tbl, ok := s.open[name]; ok {
		return tbl, nil
	}
	path := s.tablePath(name)
	if !s.tables.Exists(path) {
		return nil, fmt.Errorf("%w: %s", record.ErrInvalidTableName, name)
	}
	tbl, err := s.tables.OpenTable(path)
	if err != nil {
		return nil, err
	}
	s.open[name] = tbl
	return tbl, nil
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.open))
	for name := range s.open {
		names = append(names, name)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"open_tables": names})
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string     `json:"name"`
		Schema schemaJSON `json:"schema"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, record.ErrInvalidTableName)
		return
	}
	schema, err := req.Schema.toSchema()
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	if err := s.tables.CreateTable(s.tablePath(req.Name), schema); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"table": req.Name})
}

func (s *Server) handleTableStats(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.getTable(chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"table": tbl.Stats(),
		"pool":  tbl.Pool().Stats(),
	})
}

func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")

	s.mu.Lock()
	if tbl, ok := s.open[name]; ok {
		if err := tbl.Close(); err != nil {
			s.mu.Unlock()
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		delete(s.open, name)
	}
	s.mu.Unlock()

	if err := s.tables.DeleteTable(s.tablePath(name)); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"dropped": name})
}

// recordToJSON renders a record as attribute name -> value.
func recordToJSON(schema *record.Schema, rec *record.Record) (map[string]interface{}, error) {
	out := make(map[string]interface{}, schema.NumAttrs())
	for i, name := range schema.AttrNames {
		v, err := rec.GetAttr(schema, i)
		if err != nil {
			return nil, err
		}
		if v.IsNull {
			out[name] = nil
			continue
		}
		switch v.Type {
		case record.TypeInt:
			out[name] = v.Int
		case record.TypeFloat:
			out[name] = v.Float
		case record.TypeBool:
			out[name] = v.Bool
		case record.TypeString:
			out[name] = v.String()
		}
	}
	out["_rid"] = rec.ID.String()
	return out, nil
}

// recordFromJSON fills a record from attribute name -> value.
func recordFromJSON(schema *record.Schema, fields map[string]interface{}) (*record.Record, error) {
	rec := record.NewRecord(schema)
	for i, name := range schema.AttrNames {
		raw, ok := fields[name]
		if !ok || raw == nil {
			if err := rec.SetAttr(schema, i, record.NullValue(schema.DataTypes[i])); err != nil {
				return nil, err
			}
			continue
		}
		var v record.Value
		switch schema.DataTypes[i] {
		case record.TypeInt:
			f, ok := raw.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: %s wants INT", record.ErrInvalidAttr, name)
			}
			v = record.IntValue(int32(f))
		case record.TypeFloat:
			f, ok := raw.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: %s wants FLOAT", record.ErrInvalidAttr, name)
			}
			v = record.FloatValue(float32(f))
		case record.TypeBool:
			b, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %s wants BOOL", record.ErrInvalidAttr, name)
			}
			v = record.BoolValue(b)
		case record.TypeString:
			str, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s wants STRING", record.ErrInvalidAttr, name)
			}
			v = record.StringValue(str)
		}
		if err := rec.SetAttr(schema, i, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.getTable(chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := recordFromJSON(tbl.Schema(), fields)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	if err := tbl.Insert(rec); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordInsert()
	respondJSON(w, http.StatusCreated, map[string]string{"rid": rec.ID.String()})
}

func parseRID(r *http.Request) (record.RID, error) {
	page, err := strconv.ParseInt(chi.URLParam(r, "page"), 10, 32)
	if err != nil {
		return record.RID{}, fmt.Errorf("bad page: %w", err)
	}
	slot, err := strconv.ParseInt(chi.URLParam(r, "slot"), 10, 32)
	if err != nil {
		return record.RID{}, fmt.Errorf("bad slot: %w", err)
	}
	return record.RID{Page: int32(page), Slot: int32(slot)}, nil
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.getTable(chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	id, err := parseRID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := tbl.Get(id)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordRead()
	out, err := recordToJSON(tbl.Schema(), rec)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	out["_tombstoned"] = rec.Tombstoned()
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.getTable(chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	id, err := parseRID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := tbl.Delete(id); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordDelete()
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

// ---- scan handlers ----

// predicateJSON is a simple comparison filter: attr op value, with
// op in {"=", "<"}. Absent predicate means full scan.
type predicateJSON struct {
	Attr  string      `json:"attr"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

func (p *predicateJSON) toExpr(schema *record.Schema) (record.Expr, error) {
	idx, err := schema.AttrIndex(p.Attr)
	if err != nil {
		return nil, err
	}
	var val record.Value
	switch schema.DataTypes[idx] {
	case record.TypeInt:
		f, ok := p.Value.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants INT", record.ErrInvalidAttr, p.Attr)
		}
		val = record.IntValue(int32(f))
	case record.TypeFloat:
		f, ok := p.Value.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants FLOAT", record.ErrInvalidAttr, p.Attr)
		}
		val = record.FloatValue(float32(f))
	case record.TypeBool:
		b, ok := p.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants BOOL", record.ErrInvalidAttr, p.Attr)
		}
		val = record.BoolValue(b)
	case record.TypeString:
		str, ok := p.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants STRING", record.ErrInvalidAttr, p.Attr)
		}
		val = record.StringValue(str)
	}

	switch p.Op {
	case "=":
		return record.Equals(record.Attr(idx), record.Const(val)), nil
	case "<":
		return record.Less(record.Attr(idx), record.Const(val)), nil
	default:
		return nil, fmt.Errorf("%w: operator %q", record.ErrInvalidAttr, p.Op)
	}
}

func (s *Server) handleOpenScan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	tbl, err := s.getTable(name)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}

	var req struct {
		Predicate *predicateJSON `json:"predicate"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	var cond record.Expr
	if req.Predicate != nil {
		cond, err = req.Predicate.toExpr(tbl.Schema())
		if err != nil {
			s.respondError(w, errStatus(err), err)
			return
		}
	}

	scan, err := tbl.Scan(cond)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordScan()

	id := uuid.NewString()
	s.mu.Lock()
	s.cursors[id] = &cursor{table: name, scan: scan, created: time.Now()}
	s.mu.Unlock()

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"cursor":  id,
		"matches": scan.Remaining(),
	})
}

func (s *Server) handleScanNext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cursor")

	s.mu.Lock()
	c, ok := s.cursors[id]
	s.mu.Unlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("unknown cursor %s", id))
		return
	}
	tbl, err := s.getTable(c.table)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}

	batch := make([]map[string]interface{}, 0, scanBatchSize)
	rec := record.NewRecord(tbl.Schema())
	for len(batch) < scanBatchSize {
		if err := c.scan.Next(rec); err != nil {
			if errors.Is(err, record.ErrNoMoreTuples) {
				break
			}
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		row, err := recordToJSON(tbl.Schema(), rec)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		batch = append(batch, row)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records":   batch,
		"remaining": c.scan.Remaining(),
	})
}

func (s *Server) handleCloseScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cursor")

	s.mu.Lock()
	c, ok := s.cursors[id]
	if ok {
		c.scan.Close()
		delete(s.cursors, id)
	}
	s.mu.Unlock()

	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("unknown cursor %s", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"closed": id})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")

	var req struct {
		Dir        string `json:"dir"`
		Passphrase string `json:"passphrase"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}
	dir := req.Dir
	if dir == "" {
		dir = s.config.SnapshotDir
	}
	if dir == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("no snapshot dir configured"))
		return
	}

	// Make sure the table is open so the snapshot sees current state.
	if _, err := s.getTable(name); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	man, err := s.snapshotTable(name, dir, req.Passphrase)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, man)
}

// ---- index handlers ----

func (s *Server) getTree(name string) (*btree.BTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tree, ok := s.trees[name]; ok {
		return tree, nil
	}
	tree, err := s.indexes.OpenBTree(s.indexPath(name))
	if err != nil {
		return nil, err
	}
	s.trees[name] = tree
	return tree, nil
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Order int    `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("index name required"))
		return
	}
	if req.Order == 0 {
		req.Order = 64
	}
	if err := s.indexes.CreateBTree(s.indexPath(req.Name), record.TypeInt, req.Order); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"index": req.Name, "order": req.Order})
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	tree, err := s.getTree(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tree": tree.Stats(),
		"pool": tree.Pool().Stats(),
	})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")

	s.mu.Lock()
	if tree, ok := s.trees[name]; ok {
		if err := tree.Close(); err != nil {
			s.mu.Unlock()
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		delete(s.trees, name)
	}
	s.mu.Unlock()

	if err := s.indexes.DeleteBTree(s.indexPath(name)); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"dropped": name})
}

func parseKey(r *http.Request) (int32, error) {
	k, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad key: %w", err)
	}
	return int32(k), nil
}

func (s *Server) handleIndexInsert(w http.ResponseWriter, r *http.Request) {
	tree, err := s.getTree(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	var req struct {
		Key  int32 `json:"key"`
		Page int32 `json:"page"`
		Slot int32 `json:"slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := tree.InsertKey(req.Key, record.RID{Page: req.Page, Slot: req.Slot}); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordIndexOp()
	respondJSON(w, http.StatusCreated, map[string]interface{}{"key": req.Key})
}

func (s *Server) handleIndexFind(w http.ResponseWriter, r *http.Request) {
	tree, err := s.getTree(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	key, err := parseKey(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	rid, err := tree.FindKey(key)
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordIndexOp()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"key": key, "page": rid.Page, "slot": rid.Slot,
	})
}

func (s *Server) handleIndexDelete(w http.ResponseWriter, r *http.Request) {
	tree, err := s.getTree(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	key, err := parseKey(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := tree.DeleteKey(key); err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	s.stats.RecordIndexOp()
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": key})
}

func (s *Server) handleIndexScan(w http.ResponseWriter, r *http.Request) {
	tree, err := s.getTree(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	scan, err := tree.OpenScan()
	if err != nil {
		s.respondError(w, errStatus(err), err)
		return
	}
	defer scan.Close()

	type entry struct {
		Key  int32 `json:"key"`
		Page int32 `json:"page"`
		Slot int32 `json:"slot"`
	}
	var entries []entry
	for {
		k, rid, err := scan.Next()
		if errors.Is(err, btree.ErrNoMoreEntries) {
			break
		}
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		entries = append(entries, entry{Key: k, Page: rid.Page, Slot: rid.Slot})
	}
	s.stats.RecordIndexOp()
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
