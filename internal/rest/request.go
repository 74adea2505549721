package rest

import (
	"net/url"
	"strings"
)

// Request describes one backend call. Paths may contain {name} segments that
// are filled with SetURLSegment.
type Request struct {
	Method string
	Path   string

	segments  map[string]string
	query     url.Values
	body      any
	hasBody   bool
	masterKey bool
}

func NewRequest(path, method string) *Request {
	return &Request{Method: method, Path: path, segments: make(map[string]string), query: url.Values{}}
}

func (r *Request) SetURLSegment(name, value string) *Request {
	r.segments[name] = value
	return r
}

func (r *Request) SetQueryParam(name, value string) *Request {
	r.query.Set(name, value)
	return r
}

func (r *Request) SetJSONBody(body any) *Request {
	r.body = body
	r.hasBody = true
	return r
}

// UseMasterKey sends the master key instead of the application key.
func (r *Request) UseMasterKey() *Request {
	r.masterKey = true
	return r
}

func (r *Request) Segment(name string) string { return r.segments[name] }

func (r *Request) JSONBody() (any, bool) { return r.body, r.hasBody }

func (r *Request) UsesMasterKey() bool { return r.masterKey }

// ResolvedPath returns Path with every {name} replaced by its escaped value.
func (r *Request) ResolvedPath() string {
	p := r.Path
	for name, value := range r.segments {
		p = strings.ReplaceAll(p, "{"+name+"}", url.PathEscape(value))
	}
	if len(r.query) > 0 {
		p += "?" + r.query.Encode()
	}
	return p
}
