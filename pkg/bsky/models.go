package bsky

import (
	"encoding/json"
	"strings"
)

// xrpcError is the body of a failed XRPC call
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	Handle     string  `json:"handle"`
	DID        string  `json:"did"`
	AccessJWT  string  `json:"accessJwt"`
	RefreshJWT string  `json:"refreshJwt"`
	DIDDoc     *didDoc `json:"didDoc,omitempty"`
}

// didDoc is the subset of a DID document needed to locate the PDS
type didDoc struct {
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// pdsEndpoint returns the atproto PDS endpoint declared in the document.
func (d *didDoc) pdsEndpoint() string {
	if d == nil {
		return ""
	}
	for _, s := range d.Service {
		if strings.HasSuffix(s.ID, "#atproto_pds") || s.Type == "AtprotoPersonalDataServer" {
			return s.ServiceEndpoint
		}
	}
	return ""
}

// SessionInfo is the account behind a validated session
type SessionInfo struct {
	Handle string `json:"handle"`
	DID    string `json:"did"`
	Email  string `json:"email,omitempty"`
	Active *bool  `json:"active,omitempty"`
	Status string `json:"status,omitempty"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type feedResponse struct {
	Cursor string            `json:"cursor"`
	Feed   []json.RawMessage `json:"feed"`
}

type followersResponse struct {
	Cursor    string            `json:"cursor"`
	Followers []json.RawMessage `json:"followers"`
}

type followsResponse struct {
	Cursor  string            `json:"cursor"`
	Follows []json.RawMessage `json:"follows"`
}

type threadResponse struct {
	Thread json.RawMessage `json:"thread"`
}

type feedGeneratorResponse struct {
	View     json.RawMessage `json:"view"`
	IsOnline bool            `json:"isOnline"`
	IsValid  bool            `json:"isValid"`
}

type listResponse struct {
	Cursor string            `json:"cursor"`
	List   json.RawMessage   `json:"list"`
	Items  []json.RawMessage `json:"items"`
}

type listsResponse struct {
	Cursor string            `json:"cursor"`
	Lists  []json.RawMessage `json:"lists"`
}

// postRecord is an app.bsky.feed.post record
type postRecord struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs,omitempty"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

// RecordRef identifies a created record
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
