package services

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
)

// Operator is a mobile-money operator available for wallet deposits.
type Operator struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	LogoData string `json:"logoData"`
}

const (
	logosDir        = "./static/operator-logos"
	operatorLogoSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M75 40h50a8 8 0 0 1 8 8v104a8 8 0 0 1-8 8H75a8 8 0 0 1-8-8V48a8 8 0 0 1 8-8zm0 16v88h50V56H75z" fill="#999"/><text x="100" y="180" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">MOBILE</text></svg>`
)

var operatorLogos = map[string]string{
	"airtel_mw": "airtel-money.svg",
	"tnm_mw":    "tnm-mpamba.svg",
	"mtn_mw":    "mtn-momo.svg",
}

var mobileOperators = []Operator{
	{Code: "airtel_mw", Name: "Airtel Money"},
	{Code: "tnm_mw", Name: "TNM Mpamba"},
	{Code: "mtn_mw", Name: "MTN Mobile Money"},
}

type OperatorService struct{}

func NewOperatorService() *OperatorService {
	return &OperatorService{}
}

// GetAllOperators lists deposit operators
// @Summary List mobile-money operators
// @Description Get the operators available for wallet deposits, with inline logos
// @Tags wallet
// @Produce json
// @Success 200 {array} Operator
// @Router /operators [get]
func (ops *OperatorService) GetAllOperators(w http.ResponseWriter, r *http.Request) {
	operators := make([]Operator, len(mobileOperators))
	copy(operators, mobileOperators)

	for i := range operators {
		operators[i].LogoData = ops.LoadLogo(operators[i].Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(operators)
}

func (ops *OperatorService) LoadLogo(code string) string {
	filename, ok := operatorLogos[code]
	if !ok {
		return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(operatorLogoSVG))
	}

	path := filepath.Join(logosDir, filename)
	if data, err := os.ReadFile(path); err == nil {
		return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(data)
	}

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(operatorLogoSVG))
}
