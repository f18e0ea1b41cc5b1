package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"checkout_core/pkg/utils"
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxIdleConnsPerHost = 2000
	t.MaxConnsPerHost = 2000
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

type result struct {
	created  int
	rejected int
	failed   int
	statuses map[int]int
}

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "服务地址")
		productID = flag.String("product", "", "压测商品ID")
		stock     = flag.Int("stock", 5, "商品当前库存")
		users     = flag.Int("users", 1000, "并发下单用户数")
		secret    = flag.String("secret", os.Getenv("JWT_SECRET"), "JWT 签名密钥")
		method    = flag.String("method", "cod", "支付方式 online|cod")
	)
	flag.Parse()

	if *productID == "" || *secret == "" {
		fmt.Println("用法: stress_tool -product=<id> -stock=5 -users=1000 -secret=<jwt secret>")
		os.Exit(2)
	}

	// 1. 预先签发令牌，避免压测时签名耗时
	tokens := make([]string, *users)
	for i := range tokens {
		tok, err := utils.GenerateToken(*secret, fmt.Sprintf("stress-user-%d", i+1), "", time.Hour)
		if err != nil {
			fmt.Printf("签发令牌失败: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = tok
	}

	fmt.Printf("开始压测：模拟 %d 个用户抢购库存为 %d 的商品 %s...\n", *users, *stock, *productID)

	// 2. 并发下单
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res = result{statuses: make(map[int]int)}
	)
	start := time.Now()

	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			status := placeOrder(*baseURL, token, *productID, *method)

			mu.Lock()
			defer mu.Unlock()
			res.statuses[status]++
			switch status {
			case http.StatusCreated:
				res.created++
			case http.StatusConflict:
				res.rejected++
			default:
				res.failed++
			}
		}(tokens[i])
	}

	wg.Wait()
	duration := time.Since(start)

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("总请求数: %d\n", *users)
	fmt.Printf("QPS: %.2f\n", float64(*users)/duration.Seconds())
	fmt.Printf("下单成功: %d (库存: %d)\n", res.created, *stock)
	fmt.Printf("库存不足: %d\n", res.rejected)
	fmt.Printf("其他失败: %d %v\n", res.failed, res.statuses)
	fmt.Println("--------------------------------------------------")

	// 3. 校验是否超卖
	if res.created > *stock {
		fmt.Printf("超卖！成功订单 %d 超过库存 %d\n", res.created, *stock)
		os.Exit(1)
	}
	fmt.Println("未发生超卖")
}

func placeOrder(baseURL, token, productID, method string) int {
	body, _ := json.Marshal(map[string]interface{}{
		"paymentMethod": method,
		"items":         []map[string]interface{}{{"productId": productID, "quantity": 1}},
	})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}
