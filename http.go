package main

import (
	"time"

	"github.com/valyala/fasthttp"
)

// requestParams is the shape the bootstrap REST calls use: host, path and
// headers split out so callers never build URLs by hand.
type requestParams struct {
	URL     string
	Path    string
	Headers map[string]string
	Body    []byte
}

type response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

func createFastHttpClient() *fasthttp.Client {
	return &fasthttp.Client{
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
	}
}

func doRequest(client *fasthttp.Client, method string, p requestParams) (response, error) {
	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	request.Header.SetMethod(method)
	request.SetRequestURI("https://" + p.URL + p.Path)
	request.Header.Set("User-Agent", userAgent)
	for key, value := range p.Headers {
		request.Header.Set(key, value)
	}
	if p.Body != nil {
		request.Header.Set("Content-Type", "application/json")
		request.SetBody(p.Body)
	}

	if err := client.Do(request, resp); err != nil {
		return response{}, err
	}

	headers := map[string]string{}
	resp.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return response{
		StatusCode: resp.StatusCode(),
		Headers:    headers,
		Body:       body,
	}, nil
}

func httpGet(client *fasthttp.Client, p requestParams) (response, error) {
	return doRequest(client, fasthttp.MethodGet, p)
}

func httpPost(client *fasthttp.Client, p requestParams) (response, error) {
	return doRequest(client, fasthttp.MethodPost, p)
}

func httpPut(client *fasthttp.Client, p requestParams) (response, error) {
	return doRequest(client, fasthttp.MethodPut, p)
}

func httpDel(client *fasthttp.Client, p requestParams) (response, error) {
	return doRequest(client, fasthttp.MethodDelete, p)
}
