package api

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// SpecHandler serves the OpenAPI YAML spec from disk.
func SpecHandler(c echo.Context) error {
	data, err := os.ReadFile("api/openapi.yaml")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load spec")
	}
	return c.Blob(http.StatusOK, "application/yaml", data)
}

// SwaggerHandler serves a Swagger UI page pointed at the OpenAPI spec.
// The page uses the official CDN-hosted assets so no static files need to
// be checked into version control.
func SwaggerHandler(c echo.Context) error {
	return c.HTML(http.StatusOK, swaggerHTML)
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Flow Manager API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    window.ui = SwaggerUIBundle({
      url: "/openapi.yaml",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout"
    });
  }
  </script>
</body>
</html>`
