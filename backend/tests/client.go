package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

func errForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrValidation
	}
	return nil
}

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		if err := errForStatus(res.StatusCode); err != nil {
			return err
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api chi.Router

	accessToken  string
	refreshToken string
	userId       string
	email        string
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.accessToken != "" {
		return r.Auth(c.accessToken)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return c.request("GET", endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return c.request("POST", endpoint)
}

func (c *client) Put(endpoint string) *httpTestRequest {
	return c.request("PUT", endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return c.request("DELETE", endpoint)
}

type authResult struct {
	User struct {
		Id    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"tokens"`
}

func (c *client) saveAuth(res authResult) {
	c.accessToken = res.Tokens.AccessToken
	c.refreshToken = res.Tokens.RefreshToken
	c.userId = res.User.Id
	c.email = res.User.Email
}

func (c *client) register(email, password string) error {
	var res authResult
	err := c.Post("/auth/register").Json(map[string]string{"email": email, "password": password}).Do(&res)
	if err != nil {
		return err
	}
	c.saveAuth(res)
	return nil
}

func (c *client) login(email, password string) error {
	var res authResult
	err := c.Post("/auth/login").Json(map[string]string{"email": email, "password": password}).Do(&res)
	if err != nil {
		return err
	}
	c.saveAuth(res)
	return nil
}

func (c *client) createWorkspace(name string) (string, error) {
	var res map[string]interface{}
	err := c.Post("/workspaces/").Json(map[string]string{"name": name}).Do(&res)
	if err != nil {
		return "", err
	}
	return res["id"].(string), nil
}

func (c *client) addMember(workspaceId, email, role string) error {
	return c.Post(fmt.Sprintf("/workspaces/%v/members", workspaceId)).
		Json(map[string]string{"email": email, "role": role}).
		Do(nil)
}

func (c *client) createForm(workspaceId, name string, definition map[string]interface{}) (string, error) {
	body := map[string]interface{}{"workspace_id": workspaceId, "name": name}
	if definition != nil {
		body["definition"] = definition
	}
	var res map[string]interface{}
	err := c.Post("/forms/").Json(body).Do(&res)
	if err != nil {
		return "", err
	}
	return res["id"].(string), nil
}

type publishResult struct {
	VersionId     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
}

func (c *client) publishForm(formId string) (publishResult, error) {
	var res publishResult
	err := c.Post(fmt.Sprintf("/forms/%v/publish", formId)).Do(&res)
	return res, err
}

func (c *client) submit(formId string, answers map[string]interface{}) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Post(fmt.Sprintf("/public/forms/%v/submissions", formId)).
		Json(map[string]interface{}{"answers": answers}).
		Do(&res)
	return res, err
}
