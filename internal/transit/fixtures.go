package transit

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed fleet.yaml
var defaultFleetYAML []byte

type Coordinate struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

type RouteFixture struct {
	Number      string   `yaml:"number" validate:"required"`
	Destination string   `yaml:"destination" validate:"required"`
	Stops       []string `yaml:"stops" validate:"min=2,dive,required"`
}

type AlertFixture struct {
	Type    AlertType `yaml:"type" validate:"oneof=info warning error success"`
	Title   string    `yaml:"title" validate:"required"`
	Message string    `yaml:"message" validate:"required"`
	Route   string    `yaml:"route"`
}

type Fleet struct {
	Center        Coordinate     `yaml:"center"`
	Spread        float64        `yaml:"spread" validate:"gt=0,lte=1"`
	BusesPerRoute int            `yaml:"buses_per_route" validate:"gte=1,lte=50"`
	Locations     []string       `yaml:"locations" validate:"dive,required"`
	Routes        []RouteFixture `yaml:"routes" validate:"min=1,dive"`
	Alerts        []AlertFixture `yaml:"alerts" validate:"dive"`
}

func DefaultFleet() (Fleet, error) {
	return ParseFleet(defaultFleetYAML)
}

func LoadFleet(path string) (Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet %s: %w", path, err)
	}
	fleet, err := ParseFleet(data)
	if err != nil {
		return Fleet{}, fmt.Errorf("fleet %s: %w", path, err)
	}
	return fleet, nil
}

func ParseFleet(data []byte) (Fleet, error) {
	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return Fleet{}, fmt.Errorf("parse fleet: %w", err)
	}
	if err := validator.New().Struct(fleet); err != nil {
		return Fleet{}, fmt.Errorf("validate fleet: %w", err)
	}
	return fleet, nil
}
