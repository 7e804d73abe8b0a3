package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func testKeyer() CacheKeyer {
	base, _ := url.Parse("https://app.example/")
	return NewCacheKeyer(base)
}

func TestKeyIncludesQueryDropsFragment(t *testing.T) {
	keygen := testKeyer()
	r, _ := http.NewRequest("get", "https://APP.example/page?x=1#top", nil)
	if key := keygen.GetKey(r); key != "GET https://app.example/page?x=1" {
		t.Fatalf("Key is %s", key)
	}
}

func TestKeyRootHasSlash(t *testing.T) {
	keygen := testKeyer()
	r, _ := http.NewRequest("GET", "https://app.example", nil)
	if key := keygen.GetKey(r); key != "GET https://app.example/" {
		t.Fatalf("Key is %s", key)
	}
}

func TestRefKeyResolvesRelative(t *testing.T) {
	keygen := testKeyer()
	for ref, want := range map[string]string{
		"./":                       "GET https://app.example/",
		"./index.html":             "GET https://app.example/index.html",
		"https://cdn.example/a.js": "GET https://cdn.example/a.js",
		"/css/site.css?v=3":        "GET https://app.example/css/site.css?v=3",
	} {
		key, err := keygen.RefKey(ref)
		if err != nil {
			t.Fatalf("%s: %s", ref, err)
		}
		if key != want {
			t.Fatalf("Key for %s is %s", ref, key)
		}
	}
}

func TestRelativeWithoutBase(t *testing.T) {
	keygen := NewCacheKeyer(nil)
	if _, err := keygen.RefKey("./"); err == nil {
		t.Fatal("Expected error resolving without base")
	}
}

func TestRequestFromKey(t *testing.T) {
	keygen := testKeyer()
	r, _ := http.NewRequest("GET", "https://app.example/page?q=1", nil)
	key := keygen.GetKey(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "https://app.example/page?q=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if keygen.GetKey(req) != key {
		t.Fatalf("Key round trip failed for %s", key)
	}
}

func TestMalformedKey(t *testing.T) {
	if _, err := testKeyer().GetRequestFromKey("nospace"); err == nil {
		t.Fatal("Expected malformed key error")
	}
}
