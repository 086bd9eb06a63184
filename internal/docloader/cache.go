package docloader

import "encoding/json"

func encodeCached(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

func decodeCached(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
