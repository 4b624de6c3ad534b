package avito

import (
	"fmt"
	"net/url"
)

const baseURL = "https://www.avito.ru"

// CatalogURL builds the country-wide catalog search URL for an article.
// s=104 sorts by publication date, newest first.
func CatalogURL(article string) string {
	return fmt.Sprintf("%s/rossiya?q=%s&s=104", baseURL, url.QueryEscape(article))
}

// CatalogPageURL builds the catalog search URL opened at a specific result
// page. Used when a traversal resumes after a page swap.
func CatalogPageURL(article string, page int) string {
	return fmt.Sprintf("%s&p=%d", CatalogURL(article), page)
}

// ItemURL builds the detail-page URL for a listing.
func ItemURL(avitoItemID int64) string {
	return fmt.Sprintf("%s/%d", baseURL, avitoItemID)
}
