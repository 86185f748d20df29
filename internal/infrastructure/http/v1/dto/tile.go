package dto

type TileURI struct {
	Z int `uri:"z" validate:"gte=0,lte=30"`
	X int `uri:"x"`
	Y int `uri:"y"`
}

type PrefetchQuery struct {
	Radius int `form:"radius" validate:"gte=0,lte=5"`
}

type PixelQuery struct {
	Lat  *float64 `form:"lat" validate:"required,gte=-90,lte=90"`
	Lon  *float64 `form:"lon" validate:"required,gte=-180,lte=180"`
	Zoom *int     `form:"zoom" validate:"required,gte=0"`
}

type PositionQuery struct {
	X    *float64 `form:"x" validate:"required"`
	Y    *float64 `form:"y" validate:"required"`
	Zoom *int     `form:"zoom" validate:"required,gte=0"`
}

type TileStatusResponse struct {
	URL      string `json:"url"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Zoom     int    `json:"zoom"`
	State    string `json:"state"`
	Priority string `json:"priority"`
	Error    string `json:"error,omitempty"`
}

type PrefetchResponse struct {
	Scheduled int      `json:"scheduled"`
	URLs      []string `json:"urls"`
}

type PixelResponse struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	TileX int     `json:"tile_x"`
	TileY int     `json:"tile_y"`
}

type PositionResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type FlushResponse struct {
	Written int `json:"written"`
}
