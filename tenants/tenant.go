package tenants

// Cabinet is an accounting firm, the top level tenancy boundary.
type Cabinet struct {
	ID  int64  `json:"id"`
	Nom string `json:"nom"`
}

// Societe is a client company of a cabinet. Agents are scoped to one société at a time.
type Societe struct {
	ID            int64  `json:"id"`
	CabinetID     int64  `json:"cabinet_id"`
	RaisonSociale string `json:"raison_sociale"`
	ICE           string `json:"ice,omitempty"`       // Identifiant Commun de l'Entreprise
	IFFiscal      string `json:"if_fiscal,omitempty"` // Identifiant fiscal
}

// Selection is an explicit (cabinet, société) pair chosen by the user.
type Selection struct {
	CabinetID int64 `json:"cabinet_id"`
	SocieteID int64 `json:"societe_id"`
}

// Valid reports whether both identifiers are set.
func (s Selection) Valid() bool {
	return s.CabinetID > 0 && s.SocieteID > 0
}

func FindCabinet(cabinets []Cabinet, id int64) (Cabinet, bool) {
	for _, c := range cabinets {
		if c.ID == id {
			return c, true
		}
	}
	return Cabinet{}, false
}

func FindSociete(societes []Societe, id int64) (Societe, bool) {
	for _, s := range societes {
		if s.ID == id {
			return s, true
		}
	}
	return Societe{}, false
}
