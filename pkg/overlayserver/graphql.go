package overlayserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql"

	"github.com/mnohosten/stateoverlay/pkg/overlay"
)

var entryType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "Entry",
	Description: "One overlaid key and its current value",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type:        graphql.NewNonNull(graphql.String),
			Description: "The key, as stored",
		},
		"value": &graphql.Field{
			Type:        graphql.String,
			Description: "The current value, absent if the key is tombstoned",
		},
		"present": &graphql.Field{
			Type:        graphql.NewNonNull(graphql.Boolean),
			Description: "False means the key is deleted, not merely empty",
		},
		"extrinsics": &graphql.Field{
			Type:        graphql.NewList(graphql.NewNonNull(graphql.Int)),
			Description: "Indices of the extrinsics that touched this key",
		},
	},
})

func entryToGraphQL(key []byte, ov *overlay.OverlayedValue) map[string]interface{} {
	slot := ov.Value()
	var value interface{}
	if slot.Present {
		value = string(slot.Value)
	}
	extrinsics := ov.Extrinsics()
	ints := make([]int, len(extrinsics))
	for i, e := range extrinsics {
		ints[i] = int(e)
	}
	return map[string]interface{}{
		"key":        string(key),
		"value":      value,
		"present":    slot.Present,
		"extrinsics": ints,
	}
}

// schema builds the read-only GraphQL schema for cs. There is no
// mutation type: a GraphQL client can only observe this changeset, the
// same restriction the HTTP and WebSocket surfaces enforce.
func schema(cs *overlay.Changeset) (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Query",
		Description: "Root query type for the overlay inspector",
		Fields: graphql.Fields{
			"transactionDepth": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Number of currently open nested transactions",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return cs.TransactionDepth(), nil
				},
			},
			"changes": &graphql.Field{
				Type:        graphql.NewList(graphql.NewNonNull(entryType)),
				Description: "Every key currently present in the overlay, in key order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					entries := cs.Changes()
					out := make([]map[string]interface{}, len(entries))
					for i, e := range entries {
						out[i] = entryToGraphQL(e.Key, e.Value)
					}
					return out, nil
				},
			},
			"get": &graphql.Field{
				Type:        entryType,
				Description: "Look up a single key in the overlay",
				Args: graphql.FieldConfigArgument{
					"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key, _ := p.Args["key"].(string)
					ov, ok := cs.Get([]byte(key))
					if !ok {
						return nil, nil
					}
					return entryToGraphQL([]byte(key), ov), nil
				},
			},
			"nextChange": &graphql.Field{
				Type:        entryType,
				Description: "The first key strictly greater than the given key, if any",
				Args: graphql.FieldConfigArgument{
					"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key, _ := p.Args["key"].(string)
					entry, ok := cs.NextChange([]byte(key))
					if !ok {
						return nil, nil
					}
					return entryToGraphQL(entry.Key, entry.Value), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

type graphqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (s *Server) setupGraphQLRoutes() error {
	sch, err := schema(s.cs)
	if err != nil {
		return fmt.Errorf("overlayserver: failed to build GraphQL schema: %w", err)
	}

	s.router.Post("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result := graphql.Do(graphql.Params{
			Schema:         sch,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        r.Context(),
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})

	return nil
}
