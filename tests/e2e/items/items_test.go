package items

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/testutil"
	"github.com/sorcerlabs/auctionflow/tests/e2e"
)

const (
	ItemsURL = "/api/items"
)

func Test_Items(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeInTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		admin := e2e.CreateUser(t, s.Store, "admin@test.io", models.RoleAdmin)
		researcher := e2e.CreateUser(t, s.Store, "researcher@test.io", models.RoleResearcher)

		do := func(t *testing.T, user *models.User, method string, url string, body string) (int, string) {
			t.Helper()

			var reader io.Reader
			if body != "" {
				reader = strings.NewReader(body)
			}
			req, err := http.NewRequest(method, srvURL+url, reader)
			require.NoError(t, err, "failed to create request")
			if user != nil {
				e2e.Authorize(t, req, *user)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err, "failed to send request")
			defer resp.Body.Close() // nolint:errcheck

			respBody, err := io.ReadAll(resp.Body)
			require.NoError(t, err, "failed to read response body")
			return resp.StatusCode, string(respBody)
		}

		asObject := func(t *testing.T, body string) map[string]any {
			t.Helper()
			var obj map[string]any
			require.NoError(t, json.Unmarshal([]byte(body), &obj), "response should be a JSON object: %s", body)
			return obj
		}

		asList := func(t *testing.T, body string) []map[string]any {
			t.Helper()
			var list []map[string]any
			require.NoError(t, json.Unmarshal([]byte(body), &list), "response should be a JSON list: %s", body)
			return list
		}

		t.Run("submit item", func(t *testing.T) {
			t.Run("accepted and charged", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					_, err := s.Credits.TopUp(t.Context(), admin.ID, 5, "test credits", 0)
					require.NoError(t, err)

					status, body := do(t, &admin, http.MethodPost, ItemsURL,
						`{"url": "https://auctions.test/lot/1"}`)

					require.Equalf(t, http.StatusAccepted, status, "submit should return 202. Body: %s", body)

					item := asObject(t, body)
					require.Equal(t, "processing", item["status"])
					require.Equal(t, "Processing...", item["item_name"])

					balance, err := s.Credits.GetBalance(t.Context(), admin.ID)
					require.NoError(t, err)
					require.EqualValues(t, 4, balance.Current)
				})
			})

			t.Run("no credits", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					status, body := do(t, &admin, http.MethodPost, ItemsURL,
						`{"url": "https://auctions.test/lot/1"}`)

					require.Equalf(t, http.StatusPaymentRequired, status, "broke admin should get 402. Body: %s", body)
				})
			})

			t.Run("unsupported url", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					_, err := s.Credits.TopUp(t.Context(), admin.ID, 5, "test credits", 0)
					require.NoError(t, err)

					status, body := do(t, &admin, http.MethodPost, ItemsURL,
						`{"url": "https://elsewhere.test/lot/1"}`)

					require.Equalf(t, http.StatusUnprocessableEntity, status, "unsupported site should get 422. Body: %s", body)
				})
			})

			t.Run("duplicate url", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					_, err := s.Credits.TopUp(t.Context(), admin.ID, 5, "test credits", 0)
					require.NoError(t, err)

					status, firstBody := do(t, &admin, http.MethodPost, ItemsURL, `{"url": "https://auctions.test/lot/1"}`)
					require.Equal(t, http.StatusAccepted, status)

					status, body := do(t, &admin, http.MethodPost, ItemsURL, `{"url": "https://auctions.test/lot/1"}`)
					require.Equalf(t, http.StatusConflict, status, "duplicate should get 409. Body: %s", body)

					conflict := asObject(t, body)
					require.Contains(t, conflict["message"], "already being processed")
					require.Equal(t, asObject(t, firstBody)["id"], conflict["item_id"],
						"conflict body should carry the existing item id")
				})
			})

			t.Run("researcher may not submit", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					status, _ := do(t, &researcher, http.MethodPost, ItemsURL, `{"url": "https://auctions.test/lot/1"}`)
					require.Equal(t, http.StatusForbidden, status)
				})
			})

			t.Run("unauthorized", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					status, _ := do(t, nil, http.MethodPost, ItemsURL, `{"url": "https://auctions.test/lot/1"}`)
					require.Equal(t, http.StatusUnauthorized, status)
				})
			})
		})

		t.Run("change status", func(t *testing.T) {
			t.Run("researcher advances to winning", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					item, err := s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/2", Status: models.ItemStatusResearch, AdminID: &admin.ID,
					})
					require.NoError(t, err)

					status, body := do(t, &researcher, http.MethodPost,
						fmt.Sprintf("%s/%s/status", ItemsURL, item.ID), `{"status": "winning"}`)

					require.Equalf(t, http.StatusOK, status, "transition should return 200. Body: %s", body)
					require.Equal(t, "winning", asObject(t, body)["status"])
				})
			})

			t.Run("transition not allowed", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					item, err := s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/2", Status: models.ItemStatusProcessing, AdminID: &admin.ID,
					})
					require.NoError(t, err)

					status, _ := do(t, &researcher, http.MethodPost,
						fmt.Sprintf("%s/%s/status", ItemsURL, item.ID), `{"status": "completed"}`)
					require.Equal(t, http.StatusConflict, status)
				})
			})

			t.Run("unknown status", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					item, err := s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/2", Status: models.ItemStatusResearch, AdminID: &admin.ID,
					})
					require.NoError(t, err)

					status, _ := do(t, &researcher, http.MethodPost,
						fmt.Sprintf("%s/%s/status", ItemsURL, item.ID), `{"status": "shipped"}`)
					require.Equal(t, http.StatusUnprocessableEntity, status)
				})
			})
		})

		t.Run("list items", func(t *testing.T) {
			t.Run("admin sees only own submissions", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					other := e2e.CreateUser(t, s.Store, "other@test.io", models.RoleAdmin)

					_, err := s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/1", Status: models.ItemStatusResearch, AdminID: &admin.ID,
					})
					require.NoError(t, err)
					_, err = s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/2", Status: models.ItemStatusResearch, AdminID: &other.ID,
					})
					require.NoError(t, err)

					status, body := do(t, &admin, http.MethodGet, ItemsURL, "")
					require.Equal(t, http.StatusOK, status)
					require.Len(t, asList(t, body), 1)

					// Production roles see everything
					status, body = do(t, &researcher, http.MethodGet, ItemsURL, "")
					require.Equal(t, http.StatusOK, status)
					require.Len(t, asList(t, body), 2)
				})
			})

			t.Run("filter by status", func(t *testing.T) {
				testutil.InTx(tx, t, func(_ pgx.Tx) {
					_, err := s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/1", Status: models.ItemStatusResearch, AdminID: &admin.ID,
					})
					require.NoError(t, err)
					_, err = s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
						URL: "https://auctions.test/lot/2", Status: models.ItemStatusWinning, AdminID: &admin.ID,
					})
					require.NoError(t, err)

					status, body := do(t, &admin, http.MethodGet, ItemsURL+"?status=winning", "")
					require.Equal(t, http.StatusOK, status)

					list := asList(t, body)
					require.Len(t, list, 1)
					require.Equal(t, "winning", list[0]["status"])
				})
			})
		})

		t.Run("sub items", func(t *testing.T) {
			testutil.InTx(tx, t, func(_ pgx.Tx) {
				parent, err := s.Store.Item().CreateItem(t.Context(), models.AuctionItem{
					URL: "https://auctions.test/lot/3", ItemName: "Box of Coins",
					Status: models.ItemStatusWinning, AdminID: &admin.ID,
					IsMultipleItems: true, MultipleItemsCount: 3,
				})
				require.NoError(t, err)

				status, body := do(t, &admin, http.MethodPost,
					fmt.Sprintf("%s/%s/sub-items", ItemsURL, parent.ID), `{"count": 3}`)

				require.Equalf(t, http.StatusCreated, status, "fan-out should return 201. Body: %s", body)

				fanOut := asObject(t, body)
				require.EqualValues(t, 3, fanOut["created"])
				require.Len(t, fanOut["sub_items"], 3)

				status, body = do(t, &admin, http.MethodGet,
					fmt.Sprintf("%s/%s/sub-items", ItemsURL, parent.ID), "")
				require.Equal(t, http.StatusOK, status)
				require.Len(t, asList(t, body), 3)
			})
		})
	})
}
