package storage

type Stats struct {
	Scans           int `json:"scans"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Cancelled       int `json:"cancelled"`
	Vulnerabilities int `json:"vulnerabilities"`
}

func (h *History) GetStats(ownerID string) (*Stats, error) {
	var s Stats

	err := h.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(vulnerabilities), 0)
		FROM scan_history
		WHERE ($1 = '' OR owner_id = $1)
	`, ownerID).Scan(&s.Scans, &s.Completed, &s.Failed, &s.Cancelled, &s.Vulnerabilities)

	if err != nil {
		return nil, err
	}

	return &s, nil
}
