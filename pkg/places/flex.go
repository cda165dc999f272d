package places

import (
	"encoding/json"
	"fmt"
)

// CarouselAltText is the fallback text shown by clients that cannot
// render flex messages.
const CarouselAltText = "附近藥局推薦"

// BuildCarousel renders pharmacies as a LINE flex carousel: one bubble
// per pharmacy with name, address, phone, distance and a maps link.
func BuildCarousel(pharmacies []Pharmacy) (json.RawMessage, error) {
	bubbles := make([]map[string]interface{}, 0, len(pharmacies))

	for _, p := range pharmacies {
		mapURL := fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%f,%f", p.Lat, p.Lng)

		bubbles = append(bubbles, map[string]interface{}{
			"type": "bubble",
			"body": map[string]interface{}{
				"type":   "box",
				"layout": "vertical",
				"contents": []map[string]interface{}{
					{"type": "text", "text": p.Name, "weight": "bold", "size": "lg"},
					{"type": "text", "text": "地址：" + p.Address, "size": "sm", "color": "#555555", "wrap": true},
					{"type": "text", "text": "電話：" + p.Phone, "size": "sm", "color": "#555555"},
					{"type": "text", "text": "距離：" + p.Distance, "size": "sm", "color": "#777777"},
				},
			},
			"footer": map[string]interface{}{
				"type":   "box",
				"layout": "vertical",
				"contents": []map[string]interface{}{
					{
						"type":   "button",
						"style":  "link",
						"height": "sm",
						"action": map[string]interface{}{
							"type":  "uri",
							"label": "地圖導航",
							"uri":   mapURL,
						},
					},
				},
			},
		})
	}

	carousel := map[string]interface{}{
		"type":     "carousel",
		"contents": bubbles,
	}

	payload, err := json.Marshal(carousel)
	if err != nil {
		return nil, fmt.Errorf("marshal flex carousel: %w", err)
	}
	return payload, nil
}
