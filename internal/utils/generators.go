package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

func GenerateParticipationID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("part_%d_%06d", timestamp, randomNum.Int64())
}

func GenerateNotificationID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999999))
	return fmt.Sprintf("ntf_%d_%09d", timestamp, randomNum.Int64())
}
