package directory

import (
	"fmt"
	"net/url"
	"strconv"
)

// PageURL builds the search-results URL for a (keyword, location, page) triple.
// The page number is a plain query parameter on the directory endpoint.
func PageURL(baseURL, keyword, location string, page int) string {
	params := url.Values{}
	params.Set("what", keyword)
	params.Set("where", location)
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s?%s", baseURL, params.Encode())
}
