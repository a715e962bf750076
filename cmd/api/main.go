package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jun/refhub/internal/app"
)

func main() {
	application, err := app.NewApp(context.Background())
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	lambda.Start(application.HandleRequest)
}
