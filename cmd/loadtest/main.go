package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"surplus_market/internal/access"
	"surplus_market/internal/middleware"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type orderReq struct {
	Items []lineReq `json:"items"`
}

type lineReq struct {
	ListingID uint `json:"listing_id"`
	Quantity  int  `json:"quantity"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	listingID := flag.Uint("listing", 1, "listing id")
	secret := flag.String("secret", "dev-secret", "JWT_SECRET of the target server")
	qtyCheck := flag.Bool("check", true, "check remaining quantity after test")

	// 超卖测试参数：200 个买家并发抢同一商品
	nUsers := flag.Int("users", 200, "distinct buyers")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	key := []byte(*secret)

	before, err := getQuantity(client, *baseURL, *listingID)
	if err != nil {
		panic(fmt.Sprintf("load listing failed: %v", err))
	}
	fmt.Printf("listing %d quantity before: %d\n", *listingID, before)

	// 1) 不超卖测试：不同买家并发，每人 1 件
	fmt.Printf("start oversell test: listing=%d users=%d concurrency=%d\n", *listingID, *nUsers, *concurrency)
	results := run(*nUsers, *concurrency, func(idx int) Result {
		return buyOnce(client, *baseURL, key, fmt.Sprintf("loadtest-buyer-%d", idx+1), uint(*listingID), "")
	})
	printSummary("oversell", results)

	if *qtyCheck {
		after, err := getQuantity(client, *baseURL, *listingID)
		if err != nil {
			fmt.Println("quantity check err:", err)
		} else {
			created := countStatus(results, http.StatusCreated)
			fmt.Printf("final quantity: %d (sold %d, created %d)\n", after, before-after, created)
			if before-after != created {
				fmt.Println("MISMATCH: sold quantity differs from created orders")
			}
		}
	}

	// 2) 限流测试：同一个买家重复下单，超过 ORDER_RATE_LIMIT 后应出现 429
	fmt.Println("\nstart rate limit test: same buyer, 50 requests, concurrency 50")
	results2 := run(50, 50, func(int) Result {
		return buyOnce(client, *baseURL, key, "loadtest-buyer-hot", uint(*listingID), "")
	})
	printSummary("rate_limit", results2)

	// 3) 幂等测试：同一个 Idempotency-Key 并发重放，最多创建一单
	fmt.Println("\nstart idempotency test: same key, 20 requests, concurrency 20")
	idem := uuid.NewString()
	results3 := run(20, 20, func(int) Result {
		return buyOnce(client, *baseURL, key, "loadtest-buyer-idem", uint(*listingID), idem)
	})
	printSummary("idempotency", results3)
}

func run(total, concurrency int, fn func(idx int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL string, secret []byte, buyerID string, listingID uint, idemKey string) Result {
	token, err := middleware.IssueToken(secret, access.Actor{UserID: buyerID, Role: access.RoleBuyer},
		jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		return Result{Err: err}
	}
	b, _ := json.Marshal(orderReq{Items: []lineReq{{ListingID: listingID, Quantity: 1}}})
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if idemKey != "" {
		httpReq.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

func countStatus(results []Result, status int) int {
	n := 0
	for _, r := range results {
		if r.Err == nil && r.Status == status {
			n++
		}
	}
	return n
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 201, 400, 401, 404, 409, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// getQuantity 查询商品剩余数量，用于压测后校验是否出现超卖。
func getQuantity(client *http.Client, baseURL string, listingID uint) (int, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/listings/%d", baseURL, listingID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Listing struct {
				QuantityAvailable int `json:"quantity_available"`
			} `json:"listing"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Listing.QuantityAvailable, nil
}
