package devserver

import (
	"net/http"
	"slices"
	"strings"
)

type placementResponse struct {
	Identifier string   `json:"identifier"`
	ProductIDs []string `json:"product_ids"`
}

type paywallsResponse struct {
	Placements []placementResponse `json:"placements"`
	Products   []string            `json:"products"`
}

// Paywalls answers with the configured legacy catalog reshaped into placements. The products
// list is the union of every allow-list so clients can exercise the intersection fallback.
func (s *Server) Paywalls(w http.ResponseWriter, r *http.Request) {
	var wanted []string
	if raw := r.URL.Query().Get("placements"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				wanted = append(wanted, id)
			}
		}
	}

	resp := paywallsResponse{Placements: []placementResponse{}, Products: []string{}}
	for _, pw := range s.catalog.Legacy {
		if len(wanted) > 0 && !slices.Contains(wanted, pw.Name) {
			continue
		}
		resp.Placements = append(resp.Placements, placementResponse{
			Identifier: pw.Name,
			ProductIDs: append([]string{}, pw.Products...),
		})
	}

	groups := make([]string, 0, len(s.catalog.AllowLists))
	for group := range s.catalog.AllowLists {
		groups = append(groups, group)
	}
	slices.Sort(groups)
	for _, group := range groups {
		for _, id := range s.catalog.AllowLists[group] {
			if !slices.Contains(resp.Products, id) {
				resp.Products = append(resp.Products, id)
			}
		}
	}
	s.json(w, http.StatusOK, resp)
}
