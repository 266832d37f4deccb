package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/graphql-go/graphql"
)

// graphqlHandler serves a read-only schema over table, index and server
// statistics, so dashboards can fetch exactly the fields they need.
func (s *Server) graphqlHandler() http.Handler {
	schema, err := s.buildGraphQLSchema()
	if err != nil {
		// The schema is static; failing to build it is a programming error.
		log.Printf("graphql schema setup failed: %v", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "graphql unavailable", http.StatusServiceUnavailable)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		switch r.Method {
		case http.MethodGet:
			req.Query = r.URL.Query().Get("query")
		case http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.respondError(w, http.StatusBadRequest, err)
				return
			}
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
		})
		respondJSON(w, http.StatusOK, result)
	})
}

func (s *Server) buildGraphQLSchema() (graphql.Schema, error) {
	tableType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Table",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
			"tuples": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name, _ := p.Source.(string)
					tbl, err := s.getTable(name)
					if err != nil {
						return nil, err
					}
					return tbl.NumTuples(), nil
				},
			},
			"hitRatio": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name, _ := p.Source.(string)
					tbl, err := s.getTable(name)
					if err != nil {
						return nil, err
					}
					return tbl.Pool().HitRatio(), nil
				},
			},
		},
	})
	indexType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Index",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
			"entries": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name, _ := p.Source.(string)
					tree, err := s.getTree(name)
					if err != nil {
						return nil, err
					}
					return tree.NumEntries(), nil
				},
			},
			"nodes": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name, _ := p.Source.(string)
					tree, err := s.getTree(name)
					if err != nil {
						return nil, err
					}
					return tree.NumNodes(), nil
				},
			},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"tables": &graphql.Field{
				Type: graphql.NewList(tableType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s.mu.Lock()
					defer s.mu.Unlock()
					names := make([]string, 0, len(s.open))
					for name := range s.open {
						names = append(names, name)
					}
					return names, nil
				},
			},
			"indexes": &graphql.Field{
				Type: graphql.NewList(indexType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s.mu.Lock()
					defer s.mu.Unlock()
					names := make([]string, 0, len(s.trees))
					for name := range s.trees {
						names = append(names, name)
					}
					return names, nil
				},
			},
			"uptimeSeconds": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return s.stats.Snapshot()["uptime_seconds"], nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}
