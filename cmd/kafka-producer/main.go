package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/resource-economy/internal/kafka"
)

// playerNamespace derives stable player ids from generated names
var playerNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7a-9a51-0c2f9e4d7b11")

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

// Earn and spend sources weighted toward soft currency traffic
var sources = []struct {
	currency string
	source   string
	min, max int64
	spend    bool
}{
	{"soft", "MatchReward", 20, 150, false},
	{"soft", "Shop", 10, 300, true},
	{"premium", "DailyLogin", 1, 5, false},
	{"premium", "Cosmetics", 5, 40, true},
	{"coaching_credit", "Training", 1, 15, false},
	{"coaching_credit", "CoachSession", 2, 10, true},
}

func playerID(idx int) string {
	prefix := playerPrefixes[idx%len(playerPrefixes)]
	name := fmt.Sprintf("%s%d", prefix, idx/len(playerPrefixes)+1)
	return uuid.NewSHA1(playerNamespace, []byte(name)).String()
}

func randomTransaction(players int) kafka.TransactionMessage {
	// Half the traffic goes to the first tenth of the players
	var idx int
	if players > 10 && rand.Intn(100) < 50 {
		idx = rand.Intn(players / 10)
	} else {
		idx = rand.Intn(players)
	}

	s := sources[rand.Intn(len(sources))]
	amount := s.min + rand.Int63n(s.max-s.min+1)
	if s.spend {
		amount = -amount
	}
	return kafka.TransactionMessage{
		PlayerID: playerID(idx),
		Currency: s.currency,
		Amount:   amount,
		Source:   s.source,
	}
}

// createPlayers registers wallets through the HTTP API. Existing wallets
// answer 409 and are counted as ready.
func createPlayers(api string, players int) (int, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	ready := 0
	for i := 0; i < players; i++ {
		body, _ := json.Marshal(map[string]string{"player_id": playerID(i)})
		resp, err := client.Post(api+"/api/v1/players", "application/json", bytes.NewReader(body))
		if err != nil {
			return ready, fmt.Errorf("creating player %d: %w", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
			ready++
		}
		fmt.Printf("\r  Progress: %d/%d players", i+1, players)
	}
	fmt.Println()
	return ready, nil
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "economy-transactions", "Kafka topic")
	api := flag.String("api", "http://localhost:8080", "Economy API used to create players (empty to skip)")
	totalPlayers := flag.Int("players", 200, "Total number of players")
	transactionsPerSecond := flag.Int("rate", 100, "Transactions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *totalPlayers <= 0 || *transactionsPerSecond <= 0 {
		log.Fatal("players and rate must be positive")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Economy transaction producer")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Transactions/sec: %d\n", *transactionsPerSecond)
	fmt.Println()

	if *api != "" {
		fmt.Printf("Creating %d players via %s...\n", *totalPlayers, *api)
		ready, err := createPlayers(strings.TrimRight(*api, "/"), *totalPlayers)
		if err != nil {
			log.Fatalf("Failed to create players: %v", err)
		}
		fmt.Printf("%d players ready\n\n", ready)
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount, sentCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*transactionsPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}

			msg := randomTransaction(*totalPlayers)
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(msg.PlayerID),
				Value: sarama.ByteEncoder(data),
			}
			atomic.AddInt64(&sentCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Produced: %d | Acked: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
