package inspire

// SearchResponse ist die Antwort von /literature im JSON-Format.
type SearchResponse struct {
	Hits struct {
		Total int   `json:"total"`
		Hits  []Hit `json:"hits"`
	} `json:"hits"`
}

// Hit ist ein einzelner Treffer der Suche.
type Hit struct {
	ID       string         `json:"id"`
	Metadata RecordMetadata `json:"metadata"`
}

// RecordResponse ist die Antwort von /literature/{id}.
type RecordResponse struct {
	ID       string         `json:"id"`
	Metadata RecordMetadata `json:"metadata"`
}

// RecordMetadata enthält die Felder eines Literatur-Datensatzes, die wir auswerten.
type RecordMetadata struct {
	ControlNumber int      `json:"control_number"`
	Texkeys       []string `json:"texkeys"`
	DocumentType  []string `json:"document_type"`
	Titles        []struct {
		Title string `json:"title"`
	} `json:"titles"`
	Authors []struct {
		FullName string `json:"full_name"`
	} `json:"authors"`
	Collaborations []struct {
		Value string `json:"value"`
	} `json:"collaborations"`
	ArxivEprints []struct {
		Value      string   `json:"value"`
		Categories []string `json:"categories"`
	} `json:"arxiv_eprints"`
	DOIs []struct {
		Value string `json:"value"`
	} `json:"dois"`
	ISBNs []struct {
		Value string `json:"value"`
	} `json:"isbns"`
	ReportNumbers []struct {
		Value string `json:"value"`
	} `json:"report_numbers"`
	PublicationInfo []PublicationInfo `json:"publication_info"`
	Imprints        []struct {
		Date string `json:"date"`
	} `json:"imprints"`
	ExternalSystemIdentifiers []struct {
		Schema string `json:"schema"`
		Value  string `json:"value"`
	} `json:"external_system_identifiers"`
	Abstracts []struct {
		Value string `json:"value"`
	} `json:"abstracts"`
	PreprintDate       string `json:"preprint_date"`
	LegacyCreationDate string `json:"legacy_creation_date"`
	ThesisInfo         *struct {
		Institutions []struct {
			Name string `json:"name"`
		} `json:"institutions"`
		Date string `json:"date"`
	} `json:"thesis_info"`
}

// PublicationInfo beschreibt die Zeitschriftenreferenz.
type PublicationInfo struct {
	JournalTitle  string `json:"journal_title"`
	JournalVolume string `json:"journal_volume"`
	Year          int    `json:"year"`
	PageStart     string `json:"page_start"`
	PageEnd       string `json:"page_end"`
	ArtID         string `json:"artid"`
}

func (p PublicationInfo) pages() string {
	switch {
	case p.PageStart != "" && p.PageEnd != "":
		return p.PageStart + "-" + p.PageEnd
	case p.PageStart != "":
		return p.PageStart
	default:
		return p.ArtID
	}
}
