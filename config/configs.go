package config

import (
	"encoding/xml"
	"fmt"
	"os"
)

var MainRouter string
var DSN string
var DeviceName string
var TileExtent int
var TileCacheTTL int
var MainConfig Config

type Config struct {
	XMLName      xml.Name `xml:"config"`
	MainRouter   string   `xml:"MainRouter"`
	Dbname       string   `xml:"dbname"`
	Host         string   `xml:"host"`
	Port         string   `xml:"port"`
	Username     string   `xml:"user"`
	Password     string   `xml:"password"`
	DeviceName   string   `xml:"DeviceName"`
	TileExtent   int      `xml:"TileExtent"`
	TileCacheTTL int      `xml:"TileCacheTTL"` // seconds
}

func init() {
	TileExtent = 4096
	TileCacheTTL = 600

	xmlFile, err := os.Open("config.xml")
	if err != nil {
		fmt.Println("Error  opening  file:", err)
		return
	}
	defer xmlFile.Close()

	xmlDecoder := xml.NewDecoder(xmlFile)
	err = xmlDecoder.Decode(&MainConfig)
	if err != nil {
		fmt.Println("Error  decoding  XML:", err)
		return
	}
	MainRouter = MainConfig.MainRouter
	DeviceName = MainConfig.DeviceName
	TileExtent = MainConfig.TileExtent
	if TileExtent == 0 {
		TileExtent = 4096
	}
	TileCacheTTL = MainConfig.TileCacheTTL
	if TileCacheTTL == 0 {
		TileCacheTTL = 600
	}

	DSN = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC", MainConfig.Host, MainConfig.Username, MainConfig.Password, MainConfig.Dbname, MainConfig.Port)

}
