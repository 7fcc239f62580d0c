package chart

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// friendlyNames maps known column names to display names. Keys are normalized
// with dictionaryKey.
var friendlyNames = map[string]string{
	// Customers
	"customer_id":      "Customer ID",
	"customer_name":    "Customer",
	"customer_email":   "Customer Email",
	"customer_count":   "Customers",
	"customer_segment": "Customer Segment",
	"customer_type":    "Customer Type",
	"first_name":       "First Name",
	"last_name":        "Last Name",
	"full_name":        "Name",
	"email":            "Email",
	"phone":            "Phone",
	"signup_date":      "Signup Date",
	"signups":          "Signups",
	"new_customers":    "New Customers",
	"repeat_customers": "Repeat Customers",
	"churn_rate":       "Churn Rate",
	"retention_rate":   "Retention Rate",
	"ltv":              "Lifetime Value",
	"customer_ltv":     "Customer Lifetime Value",
	"avg_ltv":          "Average Lifetime Value",
	"nps":              "Net Promoter Score",
	"csat":             "Customer Satisfaction",
	"cac":              "Customer Acquisition Cost",
	"loyalty_tier":     "Loyalty Tier",
	"membership_level": "Membership Level",
	// Revenue and finance
	"revenue":              "Revenue",
	"total_revenue":        "Total Revenue",
	"gross_revenue":        "Gross Revenue",
	"net_revenue":          "Net Revenue",
	"avg_revenue":          "Average Revenue",
	"revenue_per_customer": "Revenue per Customer",
	"profit":               "Profit",
	"gross_profit":         "Gross Profit",
	"net_profit":           "Net Profit",
	"profit_margin":        "Profit Margin",
	"margin_pct":           "Margin Percent",
	"cost":                 "Cost",
	"total_cost":           "Total Cost",
	"unit_cost":            "Unit Cost",
	"price":                "Price",
	"unit_price":           "Unit Price",
	"amount":               "Amount",
	"total_amount":         "Total Amount",
	"discount_amount":      "Discount",
	"tax_amount":           "Tax",
	"refund_amount":        "Refund Amount",
	"aov":                  "Average Order Value",
	"avg_order_value":      "Average Order Value",
	"roi":                  "ROI",
	"marketing_spend":      "Marketing Spend",
	"budget":               "Budget",
	// Orders and shipments
	"order_id":          "Order ID",
	"order_date":        "Order Date",
	"order_count":       "Orders",
	"total_orders":      "Total Orders",
	"num_orders":        "Number of Orders",
	"order_status":      "Order Status",
	"shipment_id":       "Shipment ID",
	"shipment_count":    "Shipments",
	"total_shipments":   "Total Shipments",
	"num_shipments":     "Number of Shipments",
	"ship_date":         "Ship Date",
	"delivery_date":     "Delivery Date",
	"delivered_at":      "Delivered",
	"shipped_at":        "Shipped",
	"created_at":        "Created",
	"updated_at":        "Updated",
	"status":            "Status",
	"service_level":     "Service Level",
	"shipping_cost":     "Shipping Cost",
	"transit_days":      "Transit Days",
	"avg_transit_days":  "Average Transit Days",
	"on_time_rate":      "On Time Rate",
	"on_time_pct":       "On Time Percent",
	"late_shipments":    "Late Shipments",
	"damage_rate":       "Damage Rate",
	"weight_lbs":        "Weight in lbs",
	"carrier":           "Carrier",
	"carrier_name":      "Carrier",
	"route":             "Route",
	"route_name":        "Route",
	"origin_city":       "Origin City",
	"destination_city":  "Destination City",
	"origin_state":      "Origin State",
	"destination_state": "Destination State",
	"destination":       "Destination",
	"golf_course":       "Golf Course",
	"bag_count":         "Bags",
	// Claims and support
	"claim_id":             "Claim ID",
	"claim_count":          "Claims",
	"claim_amount":         "Claim Amount",
	"claim_status":         "Claim Status",
	"ticket_id":            "Ticket ID",
	"ticket_count":         "Tickets",
	"open_tickets":         "Open Tickets",
	"resolution_hours":     "Resolution Hours",
	"avg_resolution_hours": "Average Resolution Hours",
	"priority":             "Priority",
	// Marketing
	"campaign_name":   "Campaign",
	"channel":         "Channel",
	"impressions":     "Impressions",
	"clicks":          "Clicks",
	"ctr":             "Click Through Rate",
	"conversions":     "Conversions",
	"conversion_rate": "Conversion Rate",
	// Brewing
	"beer_name":         "Beer",
	"beer_style":        "Beer Style",
	"style":             "Style",
	"batch_id":          "Batch ID",
	"batch_size_bbl":    "Batch Size BBL",
	"brew_date":         "Brew Date",
	"abv":               "ABV",
	"ibu":               "IBU",
	"tank_id":           "Tank ID",
	"tank_name":         "Tank",
	"barrels_sold":      "Barrels Sold",
	"kegs_sold":         "Kegs Sold",
	"cases_sold":        "Cases Sold",
	"units_sold":        "Units Sold",
	"taproom_sales":     "Taproom Sales",
	"distributor_name":  "Distributor",
	"inventory_level":   "Inventory Level",
	"yield_pct":         "Yield Percent",
	"fermentation_days": "Fermentation Days",
	// Time
	"month":       "Month",
	"year":        "Year",
	"week":        "Week",
	"quarter":     "Quarter",
	"date":        "Date",
	"day_of_week": "Day of Week",
	"period":      "Period",
}

// abbreviations expands abbreviated name tokens. Every expansion maps back to itself.
var abbreviations = map[string]string{
	"abv":  "ABV",
	"amt":  "Amount",
	"aov":  "AOV",
	"api":  "API",
	"arr":  "ARR",
	"avg":  "Average",
	"bbl":  "BBL",
	"cac":  "CAC",
	"cnt":  "Count",
	"crm":  "CRM",
	"ctr":  "CTR",
	"dhl":  "DHL",
	"eta":  "ETA",
	"ibu":  "IBU",
	"id":   "ID",
	"kpi":  "KPI",
	"lbs":  "lbs",
	"ltv":  "Lifetime Value",
	"mrr":  "MRR",
	"mtd":  "MTD",
	"nps":  "NPS",
	"num":  "Number",
	"pct":  "Percent",
	"po":   "PO",
	"qtd":  "QTD",
	"qty":  "Quantity",
	"roi":  "ROI",
	"sku":  "SKU",
	"sla":  "SLA",
	"url":  "URL",
	"usd":  "USD",
	"usps": "USPS",
	"utc":  "UTC",
	"yoy":  "Year over Year",
	"ytd":  "YTD",
}

var smallWords = map[string]bool{
	"a": true, "an": true, "and": true, "by": true, "for": true, "in": true,
	"of": true, "on": true, "or": true, "over": true, "per": true, "the": true,
	"to": true, "vs": true,
}

// FriendlyColumnName turns a raw column name into a display label. Known columns
// come from a dictionary; anything else is split on underscores, dashes, spaces and
// camelCase boundaries and title-cased with abbreviations expanded. Applying it to
// its own output returns the output unchanged.
func FriendlyColumnName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return name
	}
	if friendly, ok := friendlyNames[dictionaryKey(trimmed)]; ok {
		return friendly
	}

	tokens := nameTokens(trimmed)
	out := make([]string, 0, len(tokens))
	for i, t := range tokens {
		lower := strings.ToLower(t)
		if expanded, ok := abbreviations[lower]; ok {
			out = append(out, expanded)
			continue
		}
		if i > 0 && smallWords[lower] {
			out = append(out, lower)
			continue
		}
		out = append(out, titleWord(t))
	}
	return strings.Join(out, " ")
}

func dictionaryKey(name string) string {
	tokens := nameTokens(name)
	for i, t := range tokens {
		tokens[i] = strings.ToLower(t)
	}
	return strings.Join(tokens, "_")
}

// nameTokens splits a column name on separators and lower-to-upper camelCase boundaries.
func nameTokens(name string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) && len(cur) > 0:
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return tokens
}

func titleWord(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}
