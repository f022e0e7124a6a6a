// backend/src/handlers/clientgroup_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/username/wealthvisor/backend/src/database"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
	"github.com/username/wealthvisor/backend/src/utils"
)

// ClientGroupHandler owns the client-group and product CRUD surface.
type ClientGroupHandler struct{}

func NewClientGroupHandler() *ClientGroupHandler {
	return &ClientGroupHandler{}
}

// ListClientGroups returns all client groups.
// GET /api/client_groups
func (h *ClientGroupHandler) ListClientGroups(w http.ResponseWriter, r *http.Request) {
	rows, err := database.DB.Query(`
		SELECT id, name, status, COALESCE(advisor_name, ''), created_at
		FROM client_groups
		ORDER BY name ASC`)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list client groups", "error", err)
		utils.SendJSONError(w, "Failed to retrieve client groups", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var groups []models.ClientGroup
	for rows.Next() {
		var group models.ClientGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.Status, &group.AdvisorName, &group.CreatedAt); err != nil {
			logger.FromContext(r.Context()).Error("Row scan error", "error", err)
			continue
		}
		groups = append(groups, group)
	}
	if groups == nil {
		groups = []models.ClientGroup{}
	}
	utils.SendJSON(w, groups, http.StatusOK)
}

// CreateClientGroup creates a client group.
// POST /api/client_groups
func (h *ClientGroupHandler) CreateClientGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		AdvisorName string `json:"advisor_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	req.Name = sanitizer.Sanitize(req.Name)
	req.AdvisorName = sanitizer.Sanitize(req.AdvisorName)
	if req.Name == "" {
		utils.SendJSONError(w, "name is required", http.StatusBadRequest)
		return
	}

	res, err := database.DB.Exec(`
		INSERT INTO client_groups (name, advisor_name) VALUES (?, NULLIF(?, ''))`,
		req.Name, req.AdvisorName)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to create client group", "error", err)
		utils.SendJSONError(w, "Failed to create client group", http.StatusInternalServerError)
		return
	}
	id, _ := res.LastInsertId()
	utils.SendJSON(w, map[string]interface{}{"id": id, "message": "Client group created"}, http.StatusCreated)
}

// DeleteClientGroup removes a client group and its products.
// DELETE /api/client_groups/{clientGroupID}
func (h *ClientGroupHandler) DeleteClientGroup(w http.ResponseWriter, r *http.Request) {
	clientGroupID, err := urlParamInt64(r, "clientGroupID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := database.DB.Exec(`DELETE FROM client_groups WHERE id = ?`, clientGroupID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to delete client group", "clientGroupID", clientGroupID, "error", err)
		utils.SendJSONError(w, "Failed to delete client group", http.StatusInternalServerError)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		utils.SendJSONError(w, "Client group not found", http.StatusNotFound)
		return
	}
	utils.SendJSON(w, map[string]string{"message": "Client group deleted"}, http.StatusOK)
}

// ListProducts returns the products of a client group.
// GET /api/client_groups/{clientGroupID}/products
func (h *ClientGroupHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	clientGroupID, err := urlParamInt64(r, "clientGroupID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := database.DB.Query(`
		SELECT id, client_group_id, product_name, COALESCE(provider, ''), status, COALESCE(start_date, ''), created_at
		FROM products
		WHERE client_group_id = ?
		ORDER BY product_name ASC`, clientGroupID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list products", "clientGroupID", clientGroupID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve products", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := rows.Scan(&product.ID, &product.ClientGroupID, &product.ProductName,
			&product.Provider, &product.Status, &product.StartDate, &product.CreatedAt); err != nil {
			logger.FromContext(r.Context()).Error("Row scan error", "error", err)
			continue
		}
		products = append(products, product)
	}
	if products == nil {
		products = []models.Product{}
	}
	utils.SendJSON(w, products, http.StatusOK)
}

// CreateProduct adds a product to a client group.
// POST /api/client_groups/{clientGroupID}/products
func (h *ClientGroupHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	clientGroupID, err := urlParamInt64(r, "clientGroupID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		ProductName string `json:"product_name"`
		Provider    string `json:"provider"`
		StartDate   string `json:"start_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	req.ProductName = sanitizer.Sanitize(req.ProductName)
	req.Provider = sanitizer.Sanitize(req.Provider)
	if req.ProductName == "" {
		utils.SendJSONError(w, "product_name is required", http.StatusBadRequest)
		return
	}

	res, err := database.DB.Exec(`
		INSERT INTO products (client_group_id, product_name, provider, start_date)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		clientGroupID, req.ProductName, req.Provider, req.StartDate)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to create product", "clientGroupID", clientGroupID, "error", err)
		utils.SendJSONError(w, "Failed to create product (client group must exist)", http.StatusInternalServerError)
		return
	}
	id, _ := res.LastInsertId()
	utils.SendJSON(w, map[string]interface{}{"id": id, "message": "Product created"}, http.StatusCreated)
}
