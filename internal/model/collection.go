package model

// CollectionItem is one fetchable member of a probed collection.
type CollectionItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
	URL      string `json:"url"`
}

// Collection is the flat listing of a playlist returned by a probe, ordered
// as the source orders it. Probing never fetches content.
type Collection struct {
	ID    string           `json:"id"`
	Title string           `json:"title"`
	URL   string           `json:"url"`
	Items []CollectionItem `json:"items"`
}

// CollectionRef identifies the collection context a batch was built from.
// It travels with the batch so completed downloads land in the right
// history record.
type CollectionRef struct {
	ID    string
	URL   string
	Title string
}

// Ref returns the identifying triple of the collection
func (c *Collection) Ref() *CollectionRef {
	return &CollectionRef{ID: c.ID, URL: c.URL, Title: c.Title}
}

// ItemIDs returns the member ids in listing order
func (c *Collection) ItemIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ID)
	}
	return ids
}
