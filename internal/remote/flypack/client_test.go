package flypack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelwatch/parcelwatch/internal/remote"
)

const packagesPage = `<html><body>
<div><div class="d-none d-sm-block"><h5><strong>Cuenta: 12345</strong></h5></div></div>
<h2 class="mb-4">Mis Paquetes</h2>
<table><tbody>
<tr>
  <td>1</td>
  <td>PKG-001
      TRK-111</td>
  <td>Un libro<br>15/03/2026</td>
  <td>1.25</td>
  <td><label>En tránsito</label><div class="progress-bar">50%</div></td>
</tr>
<tr>
  <td>2</td>
  <td>PKG-002
      TRK-222</td>
  <td>Zapatos<br>16/03/2026</td>
  <td>not-a-number</td>
  <td>2.50</td>
  <td><label>Recibido</label><div class="progress-bar">30%</div></td>
</tr>
</tbody></table>
</body></html>`

const expiredPage = `<html><body>
<p>Session expirada, ingrese nuevamente al sistema</p>
</body></html>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, zerolog.Nop())
}

func TestAuthenticateParsesRedirect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run.php", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1", r.PostFormValue("EJECUTE"))
		assert.Equal(t, "ana", r.PostFormValue("text1"))
		assert.Equal(t, "s3cret", r.PostFormValue("text2"))
		_, _ = w.Write([]byte(`<html><script>window.location='index.php?ID=9&OPTIONS=Paquetes';</script></html>`))
	})

	path, err := c.Authenticate(context.Background(), "ana", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "index.php?ID=9&OPTIONS=Paquetes", path)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<script>window.location='index.php?ID=323&OPTIONS=LogiN&MSG=USUARIO O CLAVE INVALIDO';</script>`))
	})

	_, err := c.Authenticate(context.Background(), "ana", "wrong")
	assert.ErrorIs(t, err, remote.ErrBadCredentials)
}

func TestFetchPackagesParsesTable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(packagesPage))
	})

	pkgs, err := c.FetchPackages(context.Background(), "index.php?ID=9", "12345")
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	first := pkgs[0]
	assert.Equal(t, "PKG-001", first.Identifier)
	assert.Equal(t, "TRK-111", first.Tracking)
	assert.Equal(t, "Un libro", first.Description)
	assert.Equal(t, "12345", first.Username)
	assert.InDelta(t, 1.25, first.Weight, 0.0001)
	assert.Equal(t, "En tránsito", first.Status.Description)
	assert.Equal(t, "50%", first.Status.Percentage)
	assert.Equal(t, "2026-03-15", first.DeliveredAt.Format("2006-01-02"))

	// Second row uses the shifted layout: weight in the next column over.
	second := pkgs[1]
	assert.InDelta(t, 2.50, second.Weight, 0.0001)
	assert.Equal(t, "Recibido", second.Status.Description)
	assert.Equal(t, "30%", second.Status.Percentage)
}

func TestFetchPackagesDetectsExpiredSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(expiredPage))
	})

	_, err := c.FetchPackages(context.Background(), "index.php?ID=9", "12345")
	assert.ErrorIs(t, err, remote.ErrSessionExpired)
}

func TestFetchPackagesEmptyAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h2 class="mb-4">Mis Paquetes</h2><table><tbody></tbody></table></body></html>`))
	})

	pkgs, err := c.FetchPackages(context.Background(), "index.php?ID=9", "12345")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}
