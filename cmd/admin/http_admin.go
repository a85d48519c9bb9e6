package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doRequest(http.MethodGet, endpoint(*baseURL, "/v1/bootstrap", nil), 5*time.Second)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	n := fs.Uint64("n", 1, "generations to schedule")
	_ = fs.Parse(args)

	q := url.Values{"n": {strconv.FormatUint(*n, 10)}}
	doRequest(http.MethodPost, endpoint(*baseURL, "/v1/run", q), 10*time.Second)
}

func frameCmd(args []string) {
	fs := flag.NewFlagSet("frame", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	gen := fs.Uint64("gen", 0, "generation")
	_ = fs.Parse(args)

	q := url.Values{"gen": {strconv.FormatUint(*gen, 10)}}
	doRequest(http.MethodGet, endpoint(*baseURL, "/v1/frame", q), 30*time.Second)
}

func endpoint(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func doRequest(method, u string, timeout time.Duration) {
	req, _ := http.NewRequest(method, u, nil)
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimRight(string(b), "\n"))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
